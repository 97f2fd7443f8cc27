package cache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func newTestPresence(t *testing.T) (*redisPresence, redis.UniversalClient) {
	t.Helper()
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"127.0.0.1:6379"}})
	// 若 Redis 未启动则跳过
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		rdb.Del(ctx, roomKey("doc-presence"), membersKey("doc-presence"))
		rdb.SRem(ctx, docsKey(), "doc-presence")
		_ = rdb.Close()
	})
	return NewRedisPresence(rdb).(*redisPresence), rdb
}

func TestPresence_AddAndRemove(t *testing.T) {
	p, _ := newTestPresence(t)
	ctx := context.Background()

	if err := p.AddMember(ctx, "doc-presence", PresenceMember{ClientID: "c2", UserID: "7", Username: "rahim"}, time.Minute); err != nil {
		t.Fatalf("AddMember error: %v", err)
	}
	if err := p.AddMember(ctx, "doc-presence", PresenceMember{ClientID: "c1", UserID: "8", Username: "karim"}, time.Minute); err != nil {
		t.Fatalf("AddMember error: %v", err)
	}

	members, err := p.GetAliveMembers(ctx, "doc-presence")
	if err != nil {
		t.Fatalf("GetAliveMembers error: %v", err)
	}
	if len(members) != 2 || members[0].ClientID != "c1" || members[0].Username != "karim" || members[1].UserID != "7" {
		t.Fatalf("unexpected members: %+v", members)
	}

	docs, err := p.GetDocuments(ctx)
	if err != nil {
		t.Fatalf("GetDocuments error: %v", err)
	}
	found := false
	for _, d := range docs {
		if d == "doc-presence" {
			found = true
		}
	}
	if !found {
		t.Fatalf("doc-presence missing from %v", docs)
	}

	for _, id := range []string{"c1", "c2"} {
		if err := p.RemoveMember(ctx, "doc-presence", id); err != nil {
			t.Fatalf("RemoveMember error: %v", err)
		}
	}
	members, err = p.GetAliveMembers(ctx, "doc-presence")
	if err != nil {
		t.Fatalf("GetAliveMembers error: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected no members, got %+v", members)
	}
}

func TestPresence_ExpiredMembersCleaned(t *testing.T) {
	p, rdb := newTestPresence(t)
	ctx := context.Background()

	// 写入一个已经过期的成员
	p.now = func() time.Time { return time.Now().Add(-time.Hour) }
	if err := p.AddMember(ctx, "doc-presence", PresenceMember{ClientID: "stale"}, time.Minute); err != nil {
		t.Fatalf("AddMember error: %v", err)
	}
	p.now = time.Now

	members, err := p.GetAliveMembers(ctx, "doc-presence")
	if err != nil {
		t.Fatalf("GetAliveMembers error: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected stale member to be dropped, got %+v", members)
	}
	if n := rdb.HLen(ctx, membersKey("doc-presence")).Val(); n != 0 {
		t.Fatalf("members hash not cleaned, len=%d", n)
	}
}
