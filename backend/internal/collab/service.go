package collab

import (
	"context"
	"time"
)

// 协作同步服务接口（传输层只依赖这个接口：websocket / 其它长连接均可实现）
type Service interface {
	// Join 加入文档会话，返回当前字段快照；首次加入且存储中不存在时返回 ErrNotFound
	Join(ctx context.Context, docID string, clientID ClientID, n Notifier) (Snapshot, error)
	Leave(ctx context.Context, docID string, clientID ClientID) error
	SubmitChange(ctx context.Context, change ChangeEvent) (Ack, error)
	// Save 显式保存：立即调度一次 flush（与正在进行的 flush 合并）
	Save(ctx context.Context, docID string) error
	GetSession(ctx context.Context, docID string) (SessionInfo, error)
	// Close 落盘所有脏会话并拒绝新的 Join
	Close(ctx context.Context) error
}

// 文档存储契约（外部协作者）
// Load 找不到文档时返回 nil, nil
type DocumentStore interface {
	Load(ctx context.Context, docID string) (map[string]string, error)
	Save(ctx context.Context, docID string, fields map[string]string) error
}

// 快照历史（可选）：每次成功 flush 之后追加一条，seq 为落库时的会话 seq
type SnapshotStore interface {
	SaveDocumentSnapshot(ctx context.Context, docID string, seq uint64, content string) error
}

// 事件外发（可选，Kafka 实现）：不得阻塞调用方
type EventSink interface {
	Publish(evt DocEvent) bool
}

// ClientID 标识一条连接（不是用户：同一用户可有多个标签页/设备）
type ClientID string

// Notifier 由传输层实现，Notify 必须非阻塞
type Notifier interface {
	Notify(evt Event)
}

type ChangeEvent struct {
	DocID          string
	ClientID       ClientID
	Field          string
	Value          string
	ClientRevision uint64 // 仅回显，服务端以到达顺序为准
}

type Ack struct {
	DocID          string
	Field          string
	Revision       uint64 // 字段版本
	Seq            uint64 // 会话内应用序号
	ClientRevision uint64
}

type Snapshot struct {
	DocID  string                `json:"docId"`
	Fields map[string]FieldValue `json:"fields"`
	Seq    uint64                `json:"seq"`
}

type SessionInfo struct {
	DocID           string                `json:"docId"`
	Clients         []ClientID            `json:"clients"`
	Fields          map[string]FieldValue `json:"fields"`
	Seq             uint64                `json:"seq"`
	Dirty           bool                  `json:"dirty"`
	Flushing        bool                  `json:"flushing"`
	LastPersistedAt time.Time             `json:"lastPersistedAt"`
}

type EventType string

const (
	EventFieldUpdated      EventType = "fieldUpdated"
	EventPersistenceFailed EventType = "persistenceFailed"
	EventDocumentSaved     EventType = "documentSaved"
)

// Event 服务端主动推送给客户端的事件
type Event struct {
	Type     EventType
	DocID    string
	Field    string
	Value    string
	Revision uint64
	Seq      uint64
	Origin   ClientID
	Reason   string
	At       time.Time
}
