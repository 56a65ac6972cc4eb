package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-console/internal/monitor"
)

const (
	streamBuffer  = 16
	writeWait     = 5 * time.Second
	pongWait      = 60 * time.Second
	pingInterval  = pongWait * 9 / 10
	maxClientRead = 512
)

// ActivationStream pushes activation notifications to websocket clients so views
// in other browser tabs can flip their active flag. Clients that fall behind
// lose notifications rather than stall the notifier.
type ActivationStream struct {
	notifier *monitor.Notifier
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewActivationStream constructs an ActivationStream.
func NewActivationStream(notifier *monitor.Notifier, logger *zap.Logger) *ActivationStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivationStream{
		notifier: notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the connection and streams until the client goes away.
func (a *ActivationStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.notifier == nil {
		writeError(w, http.StatusServiceUnavailable, "activation notifications unavailable")
		return
	}
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	queue := make(chan monitor.Activation, streamBuffer)
	unsubscribe := a.notifier.Subscribe(func(act monitor.Activation) {
		select {
		case queue <- act:
		default:
			a.logger.Warn("activation stream client is slow; dropping notification",
				zap.String("config_code", act.ConfigCode))
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	go a.readPump(conn, done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case act := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(act); err != nil {
				a.logger.Debug("activation stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
func (a *ActivationStream) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxClientRead)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
