package ws

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"banglaCollab/backend/internal/cache"
)

// Hub 维护 docID -> 连接集合，只用于在线成员（presence）。
// 字段变更的广播由 collab 会话负责，不经过 Hub。
type Hub struct {
	// 可以为 nil（没配 Redis 时只看本实例的连接）
	presence    cache.PresenceCache
	presenceTTL time.Duration

	mu sync.RWMutex
	// 一个用户可开多个标签页/设备（多连接）；按连接记，不按 userID
	rooms map[string]map[*Conn]struct{}
}

func NewHub(p cache.PresenceCache, ttl time.Duration) *Hub {
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	return &Hub{presence: p, presenceTTL: ttl, rooms: make(map[string]map[*Conn]struct{})}
}

// Join 将连接加入指定文档房间
func (h *Hub) Join(ctx context.Context, docID string, c *Conn) {
	h.mu.Lock()
	if h.rooms[docID] == nil {
		h.rooms[docID] = make(map[*Conn]struct{})
	}
	h.rooms[docID][c] = struct{}{}
	h.mu.Unlock()
	h.touch(ctx, docID, c)
}

// touch 刷新 presence TTL（心跳）
func (h *Hub) touch(ctx context.Context, docID string, c *Conn) {
	if h.presence == nil {
		return
	}
	m := cache.PresenceMember{ClientID: string(c.clientID), UserID: c.userID, Username: c.username}
	if err := h.presence.AddMember(ctx, docID, m, h.presenceTTL); err != nil {
		log.Printf("add member error doc=%s client=%s: %v", docID, c.clientID, err)
	}
}

// Leave 将连接从指定文档房间移除
func (h *Hub) Leave(ctx context.Context, docID string, c *Conn) {
	h.mu.Lock()
	if conns, ok := h.rooms[docID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, docID)
		}
	}
	h.mu.Unlock()
	if h.presence != nil {
		if err := h.presence.RemoveMember(ctx, docID, string(c.clientID)); err != nil {
			log.Printf("remove member error doc=%s client=%s: %v", docID, c.clientID, err)
		}
	}
}

func (h *Hub) conns(docID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.rooms[docID]))
	for c := range h.rooms[docID] {
		out = append(out, c)
	}
	return out
}

// Members 优先读 Redis（跨实例），失败或未配置时退回本地连接
func (h *Hub) Members(ctx context.Context, docID string) []PresenceMember {
	if h.presence != nil {
		members, err := h.presence.GetAliveMembers(ctx, docID)
		if err == nil {
			out := make([]PresenceMember, len(members))
			for i, m := range members {
				out[i] = PresenceMember{ClientID: m.ClientID, UserID: m.UserID, Username: m.Username}
			}
			return out
		}
		log.Printf("get alive members error doc=%s: %v", docID, err)
	}
	conns := h.conns(docID)
	out := make([]PresenceMember, 0, len(conns))
	for _, c := range conns {
		out = append(out, PresenceMember{ClientID: string(c.clientID), UserID: c.userID, Username: c.username})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

func (h *Hub) BroadcastPresence(ctx context.Context, docID string) {
	members := h.Members(ctx, docID)
	msg := ServerMessage{Type: TypePresence, DocID: docID, Members: members}
	for _, c := range h.conns(docID) {
		c.enqueue(msg)
	}
}
