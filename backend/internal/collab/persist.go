package collab

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

type persisterOptions struct {
	Attempts    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	SaveTimeout time.Duration
}

// persister：单次 flush = 带退避的有限重试。
// 不持有任何会话状态，快照由会话 actor 在自己的 goroutine 里拷贝好再交进来。
type persister struct {
	store   DocumentStore
	history SnapshotStore
	opt     persisterOptions
	sleep   func(time.Duration)
}

func newPersister(store DocumentStore, history SnapshotStore, opt persisterOptions) *persister {
	if opt.Attempts <= 0 {
		opt.Attempts = 3
	}
	if opt.BaseBackoff <= 0 {
		opt.BaseBackoff = 500 * time.Millisecond
	}
	if opt.MaxBackoff < opt.BaseBackoff {
		opt.MaxBackoff = opt.BaseBackoff * 4
	}
	if opt.SaveTimeout <= 0 {
		opt.SaveTimeout = 5 * time.Second
	}
	return &persister{store: store, history: history, opt: opt, sleep: time.Sleep}
}

func (p *persister) backoff(attempt int) time.Duration {
	// 每次退避时间 X2，封顶 MaxBackoff
	d := p.opt.BaseBackoff * time.Duration(1<<attempt)
	if d > p.opt.MaxBackoff {
		d = p.opt.MaxBackoff
	}
	return d
}

// flush 把一份字段快照写入存储。开始之后不可取消：跑完或失败。
func (p *persister) flush(docID string, seq uint64, fields map[string]string) error {
	var lastErr error
	for attempt := 0; attempt < p.opt.Attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), p.opt.SaveTimeout)
		err := p.store.Save(ctx, docID, fields)
		cancel()
		if err == nil {
			p.recordHistory(docID, seq, fields)
			return nil
		}
		lastErr = err
		log.Printf("flush failed doc=%s seq=%d attempt=%d/%d err=%v", docID, seq, attempt+1, p.opt.Attempts, err)
		if attempt < p.opt.Attempts-1 {
			p.sleep(p.backoff(attempt))
		}
	}
	return &PersistenceFailedError{DocID: docID, Attempts: p.opt.Attempts, Err: lastErr}
}

// 历史快照写失败只记日志，不影响 flush 结果
func (p *persister) recordHistory(docID string, seq uint64, fields map[string]string) {
	if p.history == nil {
		return
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.opt.SaveTimeout)
	defer cancel()
	if err := p.history.SaveDocumentSnapshot(ctx, docID, seq, string(b)); err != nil {
		log.Printf("save snapshot history failed doc=%s seq=%d err=%v", docID, seq, err)
	}
}
