package collab

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("DOCUMENT_NOT_FOUND")
	ErrNotJoined         = errors.New("NOT_JOINED")
	ErrPersistenceFailed = errors.New("PERSISTENCE_FAILED")
	ErrUnknownField      = errors.New("UNKNOWN_FIELD")
	ErrInvalidValue      = errors.New("INVALID_VALUE")
	ErrRegistryClosed    = errors.New("REGISTRY_CLOSED")
)

// PersistenceFailedError：重试次数用尽后的落库失败。
// errors.Is(err, ErrPersistenceFailed) 成立，Unwrap 得到最后一次存储错误。
type PersistenceFailedError struct {
	DocID    string
	Attempts int
	Err      error
}

func (e *PersistenceFailedError) Error() string {
	return fmt.Sprintf("persist document %s failed after %d attempts: %v", e.DocID, e.Attempts, e.Err)
}

func (e *PersistenceFailedError) Unwrap() error { return e.Err }

func (e *PersistenceFailedError) Is(target error) bool { return target == ErrPersistenceFailed }

// ErrorCode 把错误映射成下发给客户端的错误码
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return ErrNotFound.Error()
	case errors.Is(err, ErrNotJoined):
		return ErrNotJoined.Error()
	case errors.Is(err, ErrPersistenceFailed):
		return ErrPersistenceFailed.Error()
	case errors.Is(err, ErrUnknownField):
		return ErrUnknownField.Error()
	case errors.Is(err, ErrInvalidValue):
		return ErrInvalidValue.Error()
	case errors.Is(err, ErrRegistryClosed):
		return ErrRegistryClosed.Error()
	default:
		return "INTERNAL"
	}
}
