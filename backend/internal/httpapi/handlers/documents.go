package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"banglaCollab/backend/internal/collab"
	"banglaCollab/backend/internal/store"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"
)

const storeLoadTimeout = 5 * time.Second

// HistoryReader 读取落库历史（可选）
type HistoryReader interface {
	ListSnapshots(ctx context.Context, docID string, limit int) ([]store.SnapshotRow, error)
}

type DocumentHandler struct {
	svc     collab.Service
	store   collab.DocumentStore
	history HistoryReader
	// 同一文档的并发冷读只打一次存储
	group singleflight.Group
}

func NewDocumentHandler(svc collab.Service, st collab.DocumentStore, history HistoryReader) *DocumentHandler {
	return &DocumentHandler{svc: svc, store: st, history: history}
}

type documentResp struct {
	DocID           string                       `json:"documentId"`
	Live            bool                         `json:"live"`
	Fields          map[string]collab.FieldValue `json:"fields"`
	Seq             uint64                       `json:"seq"`
	Dirty           bool                         `json:"dirty"`
	Clients         int                          `json:"clients"`
	LastPersistedAt *time.Time                   `json:"lastPersistedAt,omitempty"`
}

// GetDocument 有活跃会话时返回内存中的最新值，否则读存储
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	docID := c.Param("documentID")
	if docID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": "Document ID missing"})
		return
	}
	ctx := c.Request.Context()

	info, err := h.svc.GetSession(ctx, docID)
	if err == nil {
		resp := documentResp{
			DocID:   docID,
			Live:    true,
			Fields:  info.Fields,
			Seq:     info.Seq,
			Dirty:   info.Dirty,
			Clients: len(info.Clients),
		}
		if !info.LastPersistedAt.IsZero() {
			at := info.LastPersistedAt
			resp.LastPersistedAt = &at
		}
		c.JSON(http.StatusOK, resp)
		return
	}
	if !errors.Is(err, collab.ErrNotFound) {
		writeError(c, err)
		return
	}

	// 同一次加载被多个请求共享，不能跟着第一个请求一起取消
	v, err, _ := h.group.Do(docID, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeLoadTimeout)
		defer cancel()
		return h.store.Load(loadCtx, docID)
	})
	if err != nil {
		log.Printf("load document error doc=%s: %v", docID, err)
		writeError(c, err)
		return
	}
	values, _ := v.(map[string]string)
	if values == nil {
		writeError(c, collab.ErrNotFound)
		return
	}
	fields := make(map[string]collab.FieldValue, len(values))
	for _, name := range collab.FieldNames() {
		fields[name] = collab.FieldValue{Value: values[name]}
	}
	c.JSON(http.StatusOK, documentResp{DocID: docID, Fields: fields})
}

// SaveDocument 显式保存：只对活跃会话有效，异步执行
func (h *DocumentHandler) SaveDocument(c *gin.Context) {
	docID := c.Param("documentID")
	if err := h.svc.Save(c.Request.Context(), docID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"documentId": docID, "status": "scheduled"})
}

func (h *DocumentHandler) GetHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"code": "HISTORY_DISABLED", "message": "snapshot history not configured"})
		return
	}
	docID := c.Param("documentID")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	rows, err := h.history.ListSnapshots(c.Request.Context(), docID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if rows == nil {
		rows = []store.SnapshotRow{}
	}
	c.JSON(http.StatusOK, gin.H{"documentId": docID, "snapshots": rows})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, collab.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, collab.ErrRegistryClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"code": collab.ErrorCode(err), "message": err.Error()})
}
