package collab

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
)

// command 在会话自己的 goroutine 里执行
type command func(s *docSession)

// docSession：一个正在被编辑的文档。
// 所有状态只由 run goroutine 读写（单 owner），外部一律通过 mailbox 投递 command。
type docSession struct {
	docID   string
	reg     *Registry
	mailbox chan command
	// 会话退出后关闭；此后投递的 command 不会再被执行
	done chan struct{}

	loaded          bool
	clients         map[ClientID]Notifier
	fields          map[string]*FieldValue
	seq             uint64 // 已应用的变更数（到达顺序）
	persistedSeq    uint64 // 最近一次成功落库时的 seq
	lastPersistedAt time.Time

	flushing     bool
	flushAgain   bool // flush 进行中又来了调度请求：结束后立刻再刷一次（最多一次）
	evictPending bool
	shuttingDown bool
	stopped      bool

	debounce    *time.Timer
	debounceGen uint64
	retry       *time.Timer
	evictTimer  *time.Timer
	evictGen    uint64
}

func newDocSession(docID string, reg *Registry) *docSession {
	return &docSession{
		docID:   docID,
		reg:     reg,
		mailbox: make(chan command, reg.opt.MailboxSize),
		done:    make(chan struct{}),
		clients: make(map[ClientID]Notifier),
		fields:  make(map[string]*FieldValue),
	}
}

func (s *docSession) run() {
	for cmd := range s.mailbox {
		cmd(s)
		if s.stopped {
			s.reg.remove(s)
			close(s.done)
			return
		}
	}
}

// post 供定时器 / flush goroutine 回投；会话已退出则返回 false
func (s *docSession) post(cmd command) bool {
	select {
	case s.mailbox <- cmd:
		return true
	case <-s.done:
		return false
	}
}

func (s *docSession) dirty() bool { return s.seq > s.persistedSeq }

func (s *docSession) load() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.reg.opt.LoadTimeout)
	defer cancel()
	values, err := s.reg.store.Load(ctx, s.docID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", s.docID, err)
	}
	if values == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, s.docID)
	}
	// 所有字段从 revision=0 开始；存储里多出来的键忽略
	for _, name := range FieldNames() {
		s.fields[name] = &FieldValue{Value: values[name]}
	}
	s.loaded = true
	return nil
}

func (s *docSession) snapshot() Snapshot {
	fields := make(map[string]FieldValue, len(s.fields))
	for k, v := range s.fields {
		fields[k] = *v
	}
	return Snapshot{DocID: s.docID, Fields: fields, Seq: s.seq}
}

func (s *docSession) values() map[string]string {
	out := make(map[string]string, len(s.fields))
	for k, v := range s.fields {
		out[k] = v.Value
	}
	return out
}

func (s *docSession) info() SessionInfo {
	clients := make([]ClientID, 0, len(s.clients))
	for id := range s.clients {
		clients = append(clients, id)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	snap := s.snapshot()
	return SessionInfo{
		DocID:           s.docID,
		Clients:         clients,
		Fields:          snap.Fields,
		Seq:             s.seq,
		Dirty:           s.dirty(),
		Flushing:        s.flushing,
		LastPersistedAt: s.lastPersistedAt,
	}
}

func (s *docSession) join(clientID ClientID, n Notifier) (Snapshot, error) {
	if !s.loaded {
		if err := s.load(); err != nil {
			if len(s.clients) == 0 {
				s.stop()
			}
			return Snapshot{}, err
		}
	}
	s.clients[clientID] = n
	// 快速重连：取消待定的驱逐
	s.evictPending = false
	s.evictGen++
	if s.evictTimer != nil {
		s.evictTimer.Stop()
		s.evictTimer = nil
	}
	return s.snapshot(), nil
}

func (s *docSession) leave(clientID ClientID) error {
	if _, ok := s.clients[clientID]; !ok {
		return fmt.Errorf("%w: client %s on %s", ErrNotJoined, clientID, s.docID)
	}
	delete(s.clients, clientID)
	if len(s.clients) > 0 {
		return nil
	}
	s.evictPending = true
	s.stopDebounce()
	if !s.flushing {
		s.continueEviction()
	}
	return nil
}

func (s *docSession) submit(change ChangeEvent) (Ack, error) {
	if _, ok := s.clients[change.ClientID]; !ok || !s.loaded {
		return Ack{}, fmt.Errorf("%w: client %s on %s", ErrNotJoined, change.ClientID, s.docID)
	}
	if err := ValidateChange(change.Field, change.Value); err != nil {
		return Ack{}, err
	}

	// last-write-wins：到达顺序即应用顺序，clientRevision 只回显
	fv := s.fields[change.Field]
	fv.Value = change.Value
	fv.Revision++
	s.seq++

	now := s.reg.now()
	evt := Event{
		Type:     EventFieldUpdated,
		DocID:    s.docID,
		Field:    change.Field,
		Value:    change.Value,
		Revision: fv.Revision,
		Seq:      s.seq,
		Origin:   change.ClientID,
		At:       now,
	}
	for id, n := range s.clients {
		if id == change.ClientID {
			continue
		}
		n.Notify(evt)
	}
	s.publish(DocEvent{
		EventType: DocEventFieldChanged,
		DocID:     s.docID,
		ClientID:  string(change.ClientID),
		Field:     change.Field,
		Value:     change.Value,
		Revision:  fv.Revision,
		Seq:       s.seq,
		At:        now,
	})
	s.armDebounce()

	return Ack{
		DocID:          s.docID,
		Field:          change.Field,
		Revision:       fv.Revision,
		Seq:            s.seq,
		ClientRevision: change.ClientRevision,
	}, nil
}

func (s *docSession) broadcast(evt Event) {
	for _, n := range s.clients {
		n.Notify(evt)
	}
}

func (s *docSession) publish(evt DocEvent) {
	if s.reg.sink == nil {
		return
	}
	evt.EventID = uuid.NewString()
	if !s.reg.sink.Publish(evt) {
		log.Printf("doc event dropped doc=%s type=%s seq=%d", evt.DocID, evt.EventType, evt.Seq)
	}
}

// ---- 持久化调度 ----

func (s *docSession) armDebounce() {
	d := s.reg.opt.FlushDebounce
	if d <= 0 {
		return
	}
	s.stopDebounce()
	gen := s.debounceGen
	s.debounce = time.AfterFunc(d, func() {
		s.post(func(s *docSession) {
			if gen != s.debounceGen {
				return
			}
			s.debounce = nil
			s.scheduleFlush()
		})
	})
}

func (s *docSession) stopDebounce() {
	s.debounceGen++
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
}

// scheduleFlush：有 flush 在途则只标记一次补刷；干净的会话不落库
func (s *docSession) scheduleFlush() {
	if s.flushing {
		s.flushAgain = true
		return
	}
	if !s.dirty() {
		return
	}
	s.startFlush()
}

func (s *docSession) startFlush() {
	s.stopDebounce()
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	// 快照在 actor 内拷贝，保证是已应用变更的前缀
	values := s.values()
	upto := s.seq
	s.flushing = true
	p := s.reg.persister
	docID := s.docID
	go func() {
		err := p.flush(docID, upto, values)
		s.post(func(s *docSession) { s.flushDone(upto, values, err) })
	}()
}

func (s *docSession) flushDone(upto uint64, values map[string]string, err error) {
	s.flushing = false
	again := s.flushAgain
	s.flushAgain = false
	now := s.reg.now()

	if err != nil {
		log.Printf("persistence failed doc=%s seq=%d err=%v", s.docID, upto, err)
		s.broadcast(Event{Type: EventPersistenceFailed, DocID: s.docID, Seq: upto, Reason: err.Error(), At: now})
		// 内存状态保留，稍后重试
		s.armRetry()
		return
	}

	if upto > s.persistedSeq {
		s.persistedSeq = upto
	}
	s.lastPersistedAt = now
	s.broadcast(Event{Type: EventDocumentSaved, DocID: s.docID, Seq: upto, At: now})
	s.publish(DocEvent{EventType: DocEventPersisted, DocID: s.docID, Seq: upto, Fields: values, At: now})

	if again && s.dirty() {
		s.startFlush()
		return
	}
	if s.evictPending {
		s.continueEviction()
	}
}

func (s *docSession) armRetry() {
	if s.retry != nil {
		s.retry.Stop()
	}
	s.retry = time.AfterFunc(s.reg.opt.RetryInterval, func() {
		s.post(func(s *docSession) {
			s.retry = nil
			if s.flushing || !s.dirty() {
				return
			}
			s.startFlush()
		})
	})
}

// continueEviction：无 flush 在途时调用。脏则先做最后一次 flush，干净才移除。
func (s *docSession) continueEviction() {
	if s.dirty() {
		if s.retry != nil {
			// 上一次失败，等重试定时器
			return
		}
		s.startFlush()
		return
	}
	if d := s.reg.opt.EvictDelay; d > 0 && !s.shuttingDown {
		if s.evictTimer != nil {
			s.evictTimer.Stop()
		}
		gen := s.evictGen
		s.evictTimer = time.AfterFunc(d, func() {
			s.post(func(s *docSession) {
				if gen != s.evictGen || !s.evictPending || s.flushing || s.dirty() {
					return
				}
				s.stop()
			})
		})
		return
	}
	s.stop()
}

func (s *docSession) shutdown() {
	s.clients = make(map[ClientID]Notifier)
	s.shuttingDown = true
	s.evictPending = true
	s.stopDebounce()
	if !s.loaded {
		s.stop()
		return
	}
	if !s.flushing {
		s.continueEviction()
	}
}

func (s *docSession) stop() {
	s.stopDebounce()
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.evictTimer != nil {
		s.evictTimer.Stop()
		s.evictTimer = nil
	}
	s.stopped = true
}
