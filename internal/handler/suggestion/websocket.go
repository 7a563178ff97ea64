package suggestion

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/scribe/backend/internal/logging"
	"github.com/zhouzirui/scribe/backend/internal/model/suggestion"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
	requestQueue = 8
)

// WebSocketHandler 通过WebSocket推送建议增量
type WebSocketHandler struct {
	svc      Suggester
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(svc Suggester) *WebSocketHandler {
	return &WebSocketHandler{
		svc: svc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/suggestion", h.handleWebSocket)
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msgType string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(outgoingMessage{Type: msgType, Data: data, Timestamp: time.Now().Unix()})
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// handleWebSocket 每条入站消息是一次建议请求，按顺序处理。
// 读取在独立协程中进行，连接断开时取消正在生成的建议。
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := logging.Component(r.Context(), "suggestion-ws")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// The request context is not cancelled for hijacked connections.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := &wsConn{conn: conn}

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go pingLoop(ctx, out)

	requests := make(chan suggestion.Request, requestQueue)
	go readRequests(ctx, cancel, conn, requests, log)

	for req := range requests {
		result, err := h.svc.Suggest(ctx, req, func(delta string) {
			if err := out.send("delta", map[string]string{"text": delta}); err != nil {
				log.Debugf("write delta failed: %v", err)
			}
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logFailure(ctx, err)
			if err := out.send("error", map[string]string{"message": suggestError}); err != nil {
				return
			}
			continue
		}

		if err := out.send("result", map[string]string{"suggestion": result.Text}); err != nil {
			log.Warnf("write result failed: %v", err)
			return
		}
	}
}

// readRequests 持续读取客户端消息；读取失败即视为连接断开并取消 ctx
func readRequests(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, requests chan<- suggestion.Request, log logging.Logger) {
	defer close(requests)
	defer cancel()

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var req suggestion.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("read error: %v", err)
			}
			return
		}

		select {
		case requests <- req:
		case <-ctx.Done():
			return
		}
	}
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
