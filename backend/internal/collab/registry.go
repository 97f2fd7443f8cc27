package collab

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Options struct {
	FlushDebounce time.Duration // 最后一次变更之后多久自动落库；<=0 表示只在显式保存/驱逐时落库
	FlushAttempts int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	RetryInterval time.Duration // flush 重试耗尽之后，多久再来一轮
	LoadTimeout   time.Duration
	SaveTimeout   time.Duration
	EvictDelay    time.Duration // 最后一个客户端离开、数据已干净之后保留会话的时间
	MailboxSize   int
}

func (o Options) withDefaults() Options {
	if o.FlushAttempts <= 0 {
		o.FlushAttempts = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 10 * time.Second
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 5 * time.Second
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = 5 * time.Second
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = 256
	}
	return o
}

// Registry：docId -> 会话。map 本身由 mu 保护，会话内部状态只归各自的 goroutine。
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*docSession
	closed   bool

	store     DocumentStore
	persister *persister
	sink      EventSink
	opt       Options
	now       func() time.Time
}

var _ Service = (*Registry)(nil)

// NewRegistry history / sink 可以为 nil
func NewRegistry(store DocumentStore, history SnapshotStore, sink EventSink, opt Options) *Registry {
	opt = opt.withDefaults()
	return &Registry{
		sessions: make(map[string]*docSession),
		store:    store,
		persister: newPersister(store, history, persisterOptions{
			Attempts:    opt.FlushAttempts,
			BaseBackoff: opt.BaseBackoff,
			MaxBackoff:  opt.MaxBackoff,
			SaveTimeout: opt.SaveTimeout,
		}),
		sink: sink,
		opt:  opt,
		now:  time.Now,
	}
}

func (r *Registry) lookup(docID string, create bool) (*docSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if create && r.closed {
		return nil, ErrRegistryClosed
	}
	s := r.sessions[docID]
	if s != nil || !create {
		return s, nil
	}
	s = newDocSession(docID, r)
	r.sessions[docID] = s
	go s.run()
	return s, nil
}

// remove 只删除仍指向自己的条目，避免误删同 docId 的新会话
func (r *Registry) remove(s *docSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.docID] == s {
		delete(r.sessions, s.docID)
	}
}

// do 把 fn 投递给 docID 对应的会话并等待执行完。
// ctx 只约束投递：command 一旦进了 mailbox 就一定会执行，调用方拿到的总是真实结果。
// 会话在执行前退出时（驱逐竞态）重新查找再投递；create=false 且没有会话时返回 false。
func (r *Registry) do(ctx context.Context, docID string, create bool, fn func(s *docSession)) (bool, error) {
	for {
		s, err := r.lookup(docID, create)
		if err != nil {
			return false, err
		}
		if s == nil {
			return false, nil
		}

		processed := make(chan struct{})
		cmd := func(s *docSession) {
			fn(s)
			close(processed)
		}
		select {
		case s.mailbox <- cmd:
		case <-s.done:
			continue
		case <-ctx.Done():
			return false, ctx.Err()
		}

		// 会话里的 command 不阻塞（首次加载受 LoadTimeout 约束），这里不再看 ctx
		select {
		case <-processed:
			return true, nil
		case <-s.done:
			// processed 总是先于 done 关闭
			select {
			case <-processed:
				return true, nil
			default:
				continue
			}
		}
	}
}

func (r *Registry) Join(ctx context.Context, docID string, clientID ClientID, n Notifier) (Snapshot, error) {
	var (
		snap Snapshot
		jerr error
	)
	if _, err := r.do(ctx, docID, true, func(s *docSession) {
		snap, jerr = s.join(clientID, n)
	}); err != nil {
		return Snapshot{}, err
	}
	return snap, jerr
}

func (r *Registry) Leave(ctx context.Context, docID string, clientID ClientID) error {
	var lerr error
	ok, err := r.do(ctx, docID, false, func(s *docSession) {
		lerr = s.leave(clientID)
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotJoined
	}
	return lerr
}

func (r *Registry) SubmitChange(ctx context.Context, change ChangeEvent) (Ack, error) {
	var (
		ack  Ack
		serr error
	)
	ok, err := r.do(ctx, change.DocID, false, func(s *docSession) {
		ack, serr = s.submit(change)
	})
	if err != nil {
		return Ack{}, err
	}
	if !ok {
		return Ack{}, ErrNotJoined
	}
	return ack, serr
}

func (r *Registry) Save(ctx context.Context, docID string) error {
	var serr error
	ok, err := r.do(ctx, docID, false, func(s *docSession) {
		if !s.loaded {
			serr = ErrNotFound
			return
		}
		s.scheduleFlush()
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return serr
}

// GetSession 只查询，不会创建会话
func (r *Registry) GetSession(ctx context.Context, docID string) (SessionInfo, error) {
	var (
		info SessionInfo
		ierr error
	)
	ok, err := r.do(ctx, docID, false, func(s *docSession) {
		if !s.loaded {
			ierr = ErrNotFound
			return
		}
		info = s.info()
	})
	if err != nil {
		return SessionInfo{}, err
	}
	if !ok {
		return SessionInfo{}, ErrNotFound
	}
	return info, ierr
}

// ActiveSessions 当前在内存中的文档数
func (r *Registry) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close 拒绝新的 Join，断开所有会话并等待脏数据落库。
// ctx 超时时返回错误，仍未落库的会话保持在内存里继续重试。
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*docSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		select {
		case s.mailbox <- func(s *docSession) { s.shutdown() }:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	var pending int
	for _, s := range sessions {
		select {
		case <-s.done:
		case <-ctx.Done():
			pending++
		}
	}
	if pending > 0 {
		return fmt.Errorf("close registry: %d sessions still flushing: %w", pending, ctx.Err())
	}
	return nil
}
