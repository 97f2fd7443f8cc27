package ws

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"banglaCollab/backend/internal/collab"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	// 单条消息上限：字段值是整段文本，给足空间
	maxMessageSize = 1 << 20
)

type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	svc      collab.Service
	sem      *collab.SemaphoreControl
	clientID collab.ClientID
	userID   string
	username string

	// 出站队列。send 从不关闭：发送方可能是任意会话 goroutine，关闭只靠 closed
	send      chan ServerMessage
	closed    chan struct{}
	closeOnce sync.Once

	// 已加入的文档，只在 readLoop 里读写
	docs map[string]*docFeed

	submitTimeout time.Duration
}

func NewConn(ws *websocket.Conn, hub *Hub, svc collab.Service, sem *collab.SemaphoreControl, clientID collab.ClientID, userID, username string, opt ConnOptions) *Conn {
	if opt.SendQueue <= 0 {
		opt.SendQueue = 256
	}
	if opt.SubmitTimeout <= 0 {
		opt.SubmitTimeout = 200 * time.Millisecond
	}
	return &Conn{
		ws:            ws,
		hub:           hub,
		svc:           svc,
		sem:           sem,
		clientID:      clientID,
		userID:        userID,
		username:      username,
		send:          make(chan ServerMessage, opt.SendQueue),
		closed:        make(chan struct{}),
		docs:          make(map[string]*docFeed),
		submitTimeout: opt.SubmitTimeout,
	}
}

type ConnOptions struct {
	SendQueue     int
	SubmitTimeout time.Duration
}

// enqueue 非阻塞。队列满说明客户端跟不上：直接断开，让它重连拿新快照，
// 不能悄悄丢掉一条变更。
func (c *Conn) enqueue(msg ServerMessage) {
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.send <- msg:
	case <-c.closed:
	default:
		log.Printf("send queue full, closing client=%s", c.clientID)
		c.shutdown()
	}
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// docFeed 是交给会话的 Notifier。join 的快照发出去之前到达的事件先攒着，
// 保证客户端先收到 document-joined 再收到之后的变更。
type docFeed struct {
	c       *Conn
	mu      sync.Mutex
	ready   bool
	pending []collab.Event
}

func (f *docFeed) Notify(evt collab.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		f.pending = append(f.pending, evt)
		return
	}
	f.c.enqueue(eventMessage(evt))
}

func (f *docFeed) release(first ServerMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.enqueue(first)
	for _, evt := range f.pending {
		f.c.enqueue(eventMessage(evt))
	}
	f.pending = nil
	f.ready = true
}

func (c *Conn) handleJoin(ctx context.Context, docID string) {
	if docID == "" {
		c.enqueue(ServerMessage{Type: TypeError, Code: "BAD_REQUEST", Message: "documentId required"})
		return
	}
	if _, ok := c.docs[docID]; ok {
		// 已经在会话里：重发一次当前状态
		info, err := c.svc.GetSession(ctx, docID)
		if err != nil {
			c.enqueue(errorMessage(docID, err))
			return
		}
		c.enqueue(ServerMessage{Type: TypeDocumentJoined, DocID: docID, ClientID: string(c.clientID), Fields: info.Fields, Seq: info.Seq})
		return
	}

	feed := &docFeed{c: c}
	snap, err := c.svc.Join(ctx, docID, c.clientID, feed)
	if err != nil {
		log.Printf("join document error (client=%s, doc=%s): %v", c.clientID, docID, err)
		c.enqueue(errorMessage(docID, err))
		return
	}
	c.docs[docID] = feed
	feed.release(ServerMessage{Type: TypeDocumentJoined, DocID: docID, ClientID: string(c.clientID), Fields: snap.Fields, Seq: snap.Seq})
	c.hub.Join(ctx, docID, c)
	c.hub.BroadcastPresence(ctx, docID)
}

func (c *Conn) handleChange(ctx context.Context, msg ClientMessage) {
	submitCtx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	if c.sem != nil {
		if err := c.sem.Acquire(submitCtx); err != nil {
			c.enqueue(ServerMessage{Type: TypeError, DocID: msg.DocID, Field: msg.Field, Code: "BUSY", Message: err.Error()})
			return
		}
		defer c.sem.Release()
	}

	ack, err := c.svc.SubmitChange(submitCtx, collab.ChangeEvent{
		DocID:          msg.DocID,
		ClientID:       c.clientID,
		Field:          msg.Field,
		Value:          msg.Content,
		ClientRevision: msg.ClientRevision,
	})
	if err != nil {
		em := errorMessage(msg.DocID, err)
		em.Field = msg.Field
		em.ClientRevision = msg.ClientRevision
		c.enqueue(em)
		return
	}
	c.enqueue(ServerMessage{
		Type:           TypeChangeAck,
		DocID:          ack.DocID,
		Field:          ack.Field,
		Revision:       ack.Revision,
		Seq:            ack.Seq,
		ClientRevision: ack.ClientRevision,
	})
}

func (c *Conn) handleSave(ctx context.Context, docID string) {
	if _, ok := c.docs[docID]; !ok {
		c.enqueue(errorMessage(docID, collab.ErrNotJoined))
		return
	}
	if err := c.svc.Save(ctx, docID); err != nil {
		c.enqueue(errorMessage(docID, err))
		return
	}
	// 没有待落库的变更时不会有 flush，也就没有 documentSaved 事件，直接回一条
	info, err := c.svc.GetSession(ctx, docID)
	if err == nil && !info.Dirty && !info.Flushing {
		c.enqueue(ServerMessage{Type: TypeDocumentSaved, DocID: docID, Seq: info.Seq})
	}
}

func (c *Conn) handleLeave(ctx context.Context, docID string) {
	if _, ok := c.docs[docID]; !ok {
		c.enqueue(errorMessage(docID, collab.ErrNotJoined))
		return
	}
	c.leaveDoc(ctx, docID)
	c.enqueue(ServerMessage{Type: TypeDocumentLeft, DocID: docID})
}

func (c *Conn) leaveDoc(ctx context.Context, docID string) {
	delete(c.docs, docID)
	if err := c.svc.Leave(ctx, docID, c.clientID); err != nil && !errors.Is(err, collab.ErrNotJoined) {
		log.Printf("leave document error (client=%s, doc=%s): %v", c.clientID, docID, err)
	}
	c.hub.Leave(ctx, docID, c)
	c.hub.BroadcastPresence(ctx, docID)
}

func (c *Conn) readLoop(ctx context.Context) {
	defer c.cleanup()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("read json error (client=%s): %v", c.clientID, err)
			}
			return
		}
		// 任何消息都算活跃
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case TypeJoinDocument:
			c.handleJoin(ctx, msg.DocID)

		case TypeDocumentChange:
			c.handleChange(ctx, msg)

		case TypeSaveDocument:
			c.handleSave(ctx, msg.DocID)

		case TypeLeaveDocument:
			c.handleLeave(ctx, msg.DocID)

		case TypeHeartbeat:
			for docID := range c.docs {
				c.hub.touch(ctx, docID, c)
			}
			c.enqueue(ServerMessage{Type: TypeHeartbeatAck})

		case TypeShowAliveMembers:
			c.enqueue(ServerMessage{Type: TypePresence, DocID: msg.DocID, Members: c.hub.Members(ctx, msg.DocID)})

		default:
			c.enqueue(ServerMessage{Type: TypeError, DocID: msg.DocID, Code: "UNKNOWN_MESSAGE", Message: "unknown message type " + msg.Type})
		}
	}
}

// cleanup 连接断开：离开所有文档（最后一个离开会触发落库）
func (c *Conn) cleanup() {
	c.shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for docID := range c.docs {
		c.leaveDoc(ctx, docID)
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				log.Printf("write json error (client=%s): %v", c.clientID, err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
