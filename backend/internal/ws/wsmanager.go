package ws

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"collabCore/backend/internal/collab"
	"collabCore/backend/internal/policy"
)

// 只放行本地开发来源；部分环境不带 Origin，视为同源
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	h   *Hub
	svc collab.Service
	sem *collab.SemaphoreControl
}

func NewManager(h *Hub, svc collab.Service, sem *collab.SemaphoreControl) *Manager {
	return &Manager{h: h, svc: svc, sem: sem}
}

// WebSocketConnect 鉴权中间件已把身份写进 gin context；
// 每条连接分配独立 sessionID，同一用户多端互不干扰。
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.GetUint64("userId")
	username := c.GetString("username")
	role := c.GetString("role")
	if userID == 0 {
		c.String(http.StatusUnauthorized, collab.ErrAuthenticationRequired.Error())
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	wsConn := NewConn(conn, m.h, sessionID, userID, username, policy.FromRole(role), m.svc, m.sem)

	// 先启动写循环，welcome 和后续推送才有人消费
	go wsConn.writeLoop()
	wsConn.Deliver(ServerMessage{Type: "welcome", Content: sessionID, Timestamp: time.Now()})

	// 读循环阻塞至连接关闭
	wsConn.readLoop(c.Request.Context())
}
