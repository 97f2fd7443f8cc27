package collab

import "time"

const (
	DocEventFieldChanged = "FIELD_CHANGED"
	DocEventPersisted    = "DOC_PERSISTED"
)

// DocEvent 发往 Kafka 的文档事件，key = docId 保证同文档同分区有序
type DocEvent struct {
	EventType string            `json:"eventType"`
	EventID   string            `json:"eventId"`
	DocID     string            `json:"docId"`
	ClientID  string            `json:"clientId,omitempty"`
	Field     string            `json:"field,omitempty"`
	Value     string            `json:"value"`
	Revision  uint64            `json:"revision,omitempty"`
	Seq       uint64            `json:"seq"`
	Fields    map[string]string `json:"fields,omitempty"` // 仅 DOC_PERSISTED
	At        time.Time         `json:"at"`
}
