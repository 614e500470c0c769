package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mbhillrn/peerwatch/pkg/hub"
)

type WS struct {
	Hub    *hub.Hub
	Logger *zap.Logger
}

func NewWS(h *hub.Hub, logger *zap.Logger) *WS {
	return &WS{Hub: h, Logger: logger}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and hands the connection to the hub, which
// owns it until the client goes away.
func (w *WS) ServeWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.Logger.Warn("ws_upgrade_failed", zap.Error(err))
		return
	}
	w.Hub.Serve(conn)
}
