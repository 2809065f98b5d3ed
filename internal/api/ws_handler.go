package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"cvforge/internal/worker"
)

const (
	defaultNotifyWait = 2 * time.Minute
	pingInterval      = 30 * time.Second
	controlDeadline   = 5 * time.Second
)

// NotifySubscriber delivers the payloads published on a channel until unsubscribe is called.
type NotifySubscriber interface {
	Subscribe(ctx context.Context, channel string) (messages <-chan string, unsubscribe func() error, err error)
}

// RedisSubscriber subscribes through Redis pub/sub.
type RedisSubscriber struct {
	Client *redis.Client
}

func (s RedisSubscriber) Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error) {
	pubsub := s.Client.Subscribe(ctx, channel)
	// Receive waits for the subscription confirmation so nothing published afterwards is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %q: %w", channel, err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, pubsub.Close, nil
}

// WsHandler 将预渲染结果通过 WebSocket 推送给等待的客户端。
type WsHandler struct {
	subscriber NotifySubscriber
	cache      DocumentCache
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	wait       time.Duration
}

// NewWsHandler 构造 WebSocket 处理器。subscriber 为 nil 时端点返回 503。
func NewWsHandler(subscriber NotifySubscriber, cache DocumentCache, logger *slog.Logger) *WsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WsHandler{
		subscriber: subscriber,
		cache:      cache,
		logger:     logger,
		wait:       defaultNotifyWait,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// GET /render/prewarm/:key/ws
// Sends the prewarm notification for key, then closes. A document that is already
// cached is reported immediately.
func (h *WsHandler) HandleConnection(c *gin.Context) {
	key := c.Param("key")
	if !validKey(key) {
		BadRequest(c, "invalid key")
		return
	}
	if h.subscriber == nil {
		ServiceUnavailable(c, "notifications are not configured")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	log := h.logger.With(slog.String("key", key), slog.String("client_ip", c.ClientIP()))

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.wait)
	defer cancel()

	messages, unsubscribe, err := h.subscriber.Subscribe(ctx, worker.NotifyChannel(key))
	if err != nil {
		log.Error("subscribe render notifications failed", slog.Any("error", err))
		writeClose(conn, websocket.CloseInternalServerErr, "subscribe failed")
		return
	}
	defer func() { _ = unsubscribe() }()

	// Checked after subscribing so a render that finishes in between is not missed.
	if h.cache != nil {
		if _, hit := h.cache.Lookup(ctx, key); hit {
			h.finish(conn, log, worker.RenderNotifyMessage{Status: "completed", Key: key})
			return
		}
	}

	go readLoop(conn, cancel)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			writeClose(conn, websocket.CloseNormalClosure, "timeout")
			return
		case payload, ok := <-messages:
			if !ok {
				writeClose(conn, websocket.CloseInternalServerErr, "subscription closed")
				return
			}
			var msg worker.RenderNotifyMessage
			if err := json.Unmarshal([]byte(payload), &msg); err != nil {
				log.Warn("drop malformed render notification", slog.Any("error", err))
				continue
			}
			h.finish(conn, log, msg)
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(controlDeadline)); err != nil {
				log.Info("websocket ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

func (h *WsHandler) finish(conn *websocket.Conn, log *slog.Logger, msg worker.RenderNotifyMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		log.Info("write render notification failed", slog.Any("error", err))
		return
	}
	log.Info("render notification delivered", slog.String("status", msg.Status))
	writeClose(conn, websocket.CloseNormalClosure, msg.Status)
}

// readLoop drains client frames so control messages are processed and a disconnect ends the wait.
func readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(controlDeadline))
}

// validKey accepts the hex sha256 keys the render endpoints hand out.
func validKey(key string) bool {
	if len(key) != 64 {
		return false
	}
	_, err := hex.DecodeString(key)
	return err == nil
}
