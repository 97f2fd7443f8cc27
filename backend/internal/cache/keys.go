package cache

import "fmt"

// 键语义：
// - roomKey(docID):   文档在线连接（ZSet<clientId, expireAtUnix>，score=expireAt）
// - membersKey(docID): clientId→成员信息 JSON（Hash）
// - docsKey():        有在线连接的文档索引（Set<docID>）
//
// {docID:...} 是 hash tag：同一文档的键落在同一个 cluster slot，Lua 脚本才能同时操作

const (
	keyRoomFmt    = "presence:room:{docID:%s}"         // ZSet<clientId, expireAtUnix>
	keyMembersFmt = "presence:room:members:{docID:%s}" // Hash<clientId -> json>
	keyDocsSet    = "presence:docs"                    // Set<docID>
)

func roomKey(docID string) string    { return fmt.Sprintf(keyRoomFmt, docID) }
func membersKey(docID string) string { return fmt.Sprintf(keyMembersFmt, docID) }
func docsKey() string                { return keyDocsSet }
