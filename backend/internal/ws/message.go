package ws

import (
	"time"

	"banglaCollab/backend/internal/collab"
)

// 客户端 -> 服务端
const (
	TypeJoinDocument     = "join-document"
	TypeDocumentChange   = "document-change"
	TypeSaveDocument     = "save-document"
	TypeLeaveDocument    = "leave-document"
	TypeHeartbeat        = "heartbeat"
	TypeShowAliveMembers = "show_alive_members"
)

// 服务端 -> 客户端
const (
	TypeWelcome           = "welcome"
	TypeDocumentJoined    = "document-joined"
	TypeDocumentLeft      = "document-left"
	TypeReceiveChanges    = "receive-changes"
	TypeChangeAck         = "change-ack"
	TypeDocumentSaved     = "document-saved"
	TypePersistenceFailed = "persistence-failed"
	TypePresence          = "presence"
	TypeHeartbeatAck      = "heartbeat-ack"
	TypeError             = "error"
)

type ClientMessage struct {
	Type  string `json:"type"`
	DocID string `json:"documentId"`
	Field string `json:"field,omitempty"`
	// 字段的完整新值（不是增量）
	Content string `json:"content"`
	// 客户端本地版本，只回显
	ClientRevision uint64 `json:"clientRevision,omitempty"`
}

type PresenceMember struct {
	ClientID string `json:"clientId"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
}

type ServerMessage struct {
	Type           string                       `json:"type"`
	DocID          string                       `json:"documentId,omitempty"`
	ClientID       string                       `json:"clientId,omitempty"`
	Origin         string                       `json:"origin,omitempty"` // 变更来源连接
	Field          string                       `json:"field,omitempty"`
	Content        string                       `json:"content"`
	Revision       uint64                       `json:"revision,omitempty"`
	Seq            uint64                       `json:"seq,omitempty"`
	ClientRevision uint64                       `json:"clientRevision,omitempty"`
	Fields         map[string]collab.FieldValue `json:"fields,omitempty"`
	Members        []PresenceMember             `json:"members,omitempty"`
	Code           string                       `json:"code,omitempty"`
	Message        string                       `json:"message,omitempty"`
	At             *time.Time                   `json:"at,omitempty"`
}

// eventMessage 把会话事件翻译成下行消息
func eventMessage(evt collab.Event) ServerMessage {
	at := evt.At
	msg := ServerMessage{DocID: evt.DocID, Seq: evt.Seq, At: &at}
	switch evt.Type {
	case collab.EventFieldUpdated:
		msg.Type = TypeReceiveChanges
		msg.Field = evt.Field
		msg.Content = evt.Value
		msg.Revision = evt.Revision
		msg.Origin = string(evt.Origin)
	case collab.EventDocumentSaved:
		msg.Type = TypeDocumentSaved
	case collab.EventPersistenceFailed:
		msg.Type = TypePersistenceFailed
		msg.Code = collab.ErrPersistenceFailed.Error()
		msg.Message = evt.Reason
	default:
		msg.Type = string(evt.Type)
	}
	return msg
}

func errorMessage(docID string, err error) ServerMessage {
	return ServerMessage{Type: TypeError, DocID: docID, Code: collab.ErrorCode(err), Message: err.Error()}
}
