package ws

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"banglaCollab/backend/internal/collab"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 默认放行本地开发环境的来源
var defaultOriginPrefixes = []string{
	"http://localhost",
	"http://127.0.0.1",
	"https://localhost",
	"https://127.0.0.1",
}

func newUpgrader(allowed []string) websocket.Upgrader {
	prefixes := append(append([]string{}, defaultOriginPrefixes...), allowed...)
	return websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
			return true
		}
		for _, p := range prefixes {
			if p == "*" || (p != "" && strings.HasPrefix(origin, p)) {
				return true
			}
		}
		return false
	}}
}

type ManagerOptions struct {
	AllowedOrigins []string
	Conn           ConnOptions
}

type Manager struct {
	h        *Hub
	svc      collab.Service
	sem      *collab.SemaphoreControl
	upgrader websocket.Upgrader
	opt      ManagerOptions
}

func NewManager(h *Hub, svc collab.Service, sem *collab.SemaphoreControl, opt ManagerOptions) *Manager {
	return &Manager{h: h, svc: svc, sem: sem, upgrader: newUpgrader(opt.AllowedOrigins), opt: opt}
}

// WebSocketConnect 一条连接 = 一个 clientId；同一用户多标签页各自独立
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := ""
	if v, ok := c.Get("userId"); ok {
		userID = fmt.Sprint(v)
	}
	username := c.GetString("username")

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}

	clientID := collab.ClientID(uuid.NewString())
	wsConn := NewConn(conn, m.h, m.svc, m.sem, clientID, userID, username, m.opt.Conn)

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()
	wsConn.enqueue(ServerMessage{Type: TypeWelcome, ClientID: string(clientID)})

	// 最后再进入读循环（阻塞至连接关闭）
	wsConn.readLoop(c.Request.Context())
}
