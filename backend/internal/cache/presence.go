package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache 记录每个文档当前有哪些连接在线，供多实例共享。
// 只做展示用途：会话成员关系以内存中的会话为准。
type PresenceCache interface {
	AddMember(ctx context.Context, docID string, m PresenceMember, ttl time.Duration) error
	RemoveMember(ctx context.Context, docID, clientID string) error
	GetDocuments(ctx context.Context) ([]string, error)
	GetAliveMembers(ctx context.Context, docID string) ([]PresenceMember, error)
}

// 具体实现：基于 redis 的 PresenceCache（单机 / cluster 都走 UniversalClient）
type redisPresence struct {
	rdb redis.UniversalClient
	now func() time.Time
}

type PresenceMember struct {
	ClientID string `json:"clientId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb, now: time.Now}
}

// 清理过期成员
// KEYS[1] = roomKey(docID)
// KEYS[2] = membersKey(docID)
// ARGV[1] = now (unix seconds)
var cleanupScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

func (p *redisPresence) AddMember(ctx context.Context, docID string, m PresenceMember, ttl time.Duration) error {
	if m.ClientID == "" {
		return errors.New("presence: empty clientId")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	// 刷新TTL也直接调用AddMember即可
	// ZSET score 使用 expireAt（Unix 秒），用于表达“逻辑 TTL”
	expireAt := p.now().Add(ttl).Unix()
	tx := p.rdb.TxPipeline()
	tx.ZAdd(ctx, roomKey(docID), redis.Z{Score: float64(expireAt), Member: m.ClientID})
	tx.HSet(ctx, membersKey(docID), m.ClientID, b)
	_, err = tx.Exec(ctx)
	if err != nil {
		return err
	}
	// docs 集合不和 room 同 slot，单独写
	return p.rdb.SAdd(ctx, docsKey(), docID).Err()
}

func (p *redisPresence) RemoveMember(ctx context.Context, docID, clientID string) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(docID), clientID)
	tx.HDel(ctx, membersKey(docID), clientID)
	card := tx.ZCard(ctx, roomKey(docID))
	if _, err := tx.Exec(ctx); err != nil {
		return err
	}
	if card.Val() == 0 {
		return p.rdb.SRem(ctx, docsKey(), docID).Err()
	}
	return nil
}

func (p *redisPresence) GetDocuments(ctx context.Context) ([]string, error) {
	docs, err := p.rdb.SMembers(ctx, docsKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	sort.Strings(docs)
	return docs, nil
}

func (p *redisPresence) GetAliveMembers(ctx context.Context, docID string) ([]PresenceMember, error) {
	// step1: 清理过期成员
	// 约定：score=expireAt（Unix 秒），expireAt <= now 视为过期
	now := p.now().Unix()
	_, err := cleanupScript.Run(ctx, p.rdb, []string{roomKey(docID), membersKey(docID)}, now).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	// step2: 查询在线成员
	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(docID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	// step3: 批量获取成员信息
	vals, err := p.rdb.HMGet(ctx, membersKey(docID), aliveIDs...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(aliveIDs))
	for i, v := range vals {
		m := PresenceMember{ClientID: aliveIDs[i]}
		if s, ok := v.(string); ok {
			_ = json.Unmarshal([]byte(s), &m)
		}
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ClientID < members[j].ClientID })
	return members, nil
}
