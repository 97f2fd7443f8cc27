package store

import (
	"context"
	"os"
	"testing"
	"time"

	"banglaCollab/backend/internal/collab"
	"banglaCollab/backend/internal/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

func TestMemoryStore_LoadSave(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	got, err := s.Load(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
	require.ErrorIs(t, s.Save(ctx, "missing", map[string]string{collab.FieldTitle: "x"}), ErrDocumentMissing)

	s.Seed("d1", map[string]string{collab.FieldTitle: "old", collab.FieldCaption: "cap"})
	require.NoError(t, s.Save(ctx, "d1", map[string]string{collab.FieldTitle: "new"}))

	got, err = s.Load(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{collab.FieldTitle: "new", collab.FieldCaption: "cap"}, got)

	// 返回的是拷贝
	got[collab.FieldTitle] = "mutated"
	again, _ := s.Load(ctx, "d1")
	assert.Equal(t, "new", again[collab.FieldTitle])
}

func TestMemoryStore_WithRegistry(t *testing.T) {
	s := NewMemoryStore()
	s.Seed("d1", map[string]string{collab.FieldBanglish: "ami"})
	r := collab.NewRegistry(s, nil, nil, collab.Options{BaseBackoff: time.Millisecond})
	ctx := context.Background()

	_, err := r.Join(ctx, "d1", "c1", nopNotifier{})
	require.NoError(t, err)
	_, err = r.SubmitChange(ctx, collab.ChangeEvent{DocID: "d1", ClientID: "c1", Field: collab.FieldBanglish, Value: "ami bhalo achi"})
	require.NoError(t, err)
	require.NoError(t, r.Leave(ctx, "d1", "c1"))

	assert.Eventually(t, func() bool { return r.ActiveSessions() == 0 }, 2*time.Second, 5*time.Millisecond)
	got, err := s.Load(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "ami bhalo achi", got[collab.FieldBanglish])
}

type nopNotifier struct{}

func (nopNotifier) Notify(collab.Event) {}

func TestDocumentFields_DefaultsStatus(t *testing.T) {
	got := documentFields(&entity.Document{Title: "t", Tags: "a,b"})
	assert.Equal(t, collab.StatusDraft, got[collab.FieldStatus])
	assert.Equal(t, "a,b", got[collab.FieldTags])
	assert.Len(t, got, len(collab.FieldNames()))
}

func TestMongoTags_EmptyIsArray(t *testing.T) {
	b, err := bson.Marshal(bson.M{"tags": mongoTags("")})
	require.NoError(t, err)
	assert.Equal(t, bsontype.Array, bson.Raw(b).Lookup("tags").Type)

	assert.Equal(t, []string{"poem", "bangla"}, mongoTags("poem, bangla"))
}

func TestGormDocumentStore_MySQL(t *testing.T) {
	dsn := os.Getenv("COLLAB_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("skip: COLLAB_TEST_MYSQL_DSN not set")
	}
	db, err := InitMySQL(dsn)
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	ctx := context.Background()

	doc := entity.Document{ID: "test-doc-gorm", OwnerID: "u1", Title: "t0", Status: collab.StatusDraft}
	require.NoError(t, db.Save(&doc).Error)
	t.Cleanup(func() { db.Delete(&entity.Document{}, "id = ?", doc.ID) })

	s := NewGormDocumentStore(db)
	require.NoError(t, s.Save(ctx, doc.ID, map[string]string{collab.FieldTitle: "t1", collab.FieldBangla: "বাংলা"}))
	// 值未变化也不算错
	require.NoError(t, s.Save(ctx, doc.ID, map[string]string{collab.FieldTitle: "t1"}))

	got, err := s.Load(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "t1", got[collab.FieldTitle])
	assert.Equal(t, "বাংলা", got[collab.FieldBangla])

	require.ErrorIs(t, s.Save(ctx, "no-such-doc", map[string]string{collab.FieldTitle: "x"}), ErrDocumentMissing)
	missing, err := s.Load(ctx, "no-such-doc")
	require.NoError(t, err)
	assert.Nil(t, missing)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	snaps := NewSnapshotStore(sqlDB)
	t.Cleanup(func() { db.Delete(&entity.DocumentSnapshot{}, "document_id = ?", doc.ID) })
	require.NoError(t, snaps.SaveDocumentSnapshot(ctx, doc.ID, 4, `{"title":"t1"}`))
	// 会话重新加载后 seq 从头计，历史 revision 仍然递增
	require.NoError(t, snaps.SaveDocumentSnapshot(ctx, doc.ID, 1, `{"title":"t2"}`))
	rows, err := snaps.ListSnapshots(ctx, doc.ID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, uint64(2), rows[0].Revision)
	assert.Equal(t, uint64(1), rows[0].SessionSeq)
	assert.Equal(t, `{"title":"t2"}`, rows[0].Content)
	assert.Equal(t, uint64(1), rows[1].Revision)
}

func TestMongoDocumentStore(t *testing.T) {
	uri := os.Getenv("COLLAB_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("skip: COLLAB_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := ConnectMongo(ctx, uri)
	require.NoError(t, err)
	defer client.Disconnect(context.Background())

	s := NewMongoDocumentStore(client, "collab_test", "documents")
	id, err := s.Insert(ctx, map[string]string{collab.FieldTitle: "hello", collab.FieldTags: "x,y"})
	require.NoError(t, err)

	got, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hello", got[collab.FieldTitle])
	assert.Equal(t, "x,y", got[collab.FieldTags])
	assert.Equal(t, collab.StatusDraft, got[collab.FieldStatus])

	require.NoError(t, s.Save(ctx, id, map[string]string{collab.FieldTags: "z", collab.FieldStatus: collab.StatusPublished}))
	got, err = s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "z", got[collab.FieldTags])
	assert.Equal(t, collab.StatusPublished, got[collab.FieldStatus])

	// 清空标签后仍是数组
	require.NoError(t, s.Save(ctx, id, map[string]string{collab.FieldTags: ""}))
	var raw bson.Raw
	require.NoError(t, s.coll.FindOne(ctx, bson.M{"_id": mongoID(id)}).Decode(&raw))
	assert.Equal(t, bsontype.Array, raw.Lookup("tags").Type)

	missing, err := s.Load(ctx, "not-a-doc")
	require.NoError(t, err)
	assert.Nil(t, missing)
	require.ErrorIs(t, s.Save(ctx, "not-a-doc", map[string]string{collab.FieldTitle: "x"}), ErrDocumentMissing)
}
