package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/qs3c/research_go_server/internal/engine"
	"github.com/qs3c/research_go_server/internal/pkg/broadcast"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: 生产环境需要验证 Origin
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type WebSocketHandler struct {
	engine      *engine.Engine
	broadcaster *broadcast.Broadcaster
}

func NewWebSocketHandler(eng *engine.Engine, broadcaster *broadcast.Broadcaster) *WebSocketHandler {
	return &WebSocketHandler{
		engine:      eng,
		broadcaster: broadcaster,
	}
}

// Handle 通过 WebSocket 推送单个任务的进度事件流，
// 和 SSE 接口消费同一条事件序列
// GET /api/v1/ws?job_id=xxx
func (h *WebSocketHandler) Handle(c *gin.Context) {
	jobID := c.Query("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing job_id"})
		return
	}

	if _, err := h.engine.GetStatus(jobID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	// 升级连接
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	events, cancel := h.broadcaster.Subscribe(jobID)

	// 读取循环只用于检测客户端断开
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer conn.Close()
		defer cancel()

		for ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("Job %s: websocket write error: %v", jobID, err)
				return
			}
		}

		// 事件流结束，正常关闭
		conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()
}
