package collab

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersister_Backoff(t *testing.T) {
	p := newPersister(newFakeStore(), nil, persisterOptions{
		Attempts:    5,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  300 * time.Millisecond,
	})

	assert.Equal(t, 100*time.Millisecond, p.backoff(0))
	assert.Equal(t, 200*time.Millisecond, p.backoff(1))
	assert.Equal(t, 300*time.Millisecond, p.backoff(2))
	assert.Equal(t, 300*time.Millisecond, p.backoff(6))
}

func TestPersister_RetriesUntilSuccess(t *testing.T) {
	store := newFakeStore()
	store.setFail(2)
	history := &fakeHistory{}
	p := newPersister(store, history, persisterOptions{Attempts: 3, BaseBackoff: time.Second, MaxBackoff: 4 * time.Second})
	var slept []time.Duration
	p.sleep = func(d time.Duration) { slept = append(slept, d) }

	err := p.flush("doc-1", 9, map[string]string{FieldTitle: "t"})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
	assert.Equal(t, 3, store.startedCount())
	assert.Equal(t, "t", store.lastSaved()[FieldTitle])
	assert.Equal(t, []uint64{9}, history.revs)
}

func TestPersister_ExhaustedAttempts(t *testing.T) {
	store := newFakeStore()
	store.setFail(-1)
	history := &fakeHistory{}
	p := newPersister(store, history, persisterOptions{Attempts: 2, BaseBackoff: time.Millisecond})
	p.sleep = func(time.Duration) {}

	err := p.flush("doc-1", 1, map[string]string{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistenceFailed)

	var pf *PersistenceFailedError
	require.True(t, errors.As(err, &pf))
	assert.Equal(t, 2, pf.Attempts)
	assert.EqualError(t, pf.Err, "store unavailable")
	assert.Equal(t, 2, store.startedCount())
	assert.Empty(t, history.revs)
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNotFound, "DOCUMENT_NOT_FOUND"},
		{errors.Join(errors.New("wrapped"), ErrNotJoined), "NOT_JOINED"},
		{&PersistenceFailedError{DocID: "d", Attempts: 1, Err: errors.New("x")}, "PERSISTENCE_FAILED"},
		{ValidateChange("nope", ""), "UNKNOWN_FIELD"},
		{ErrRegistryClosed, "REGISTRY_CLOSED"},
		{context.Canceled, "INTERNAL"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ErrorCode(c.err))
	}
}
