// Package handlers wires the HTTP surface: the websocket upgrade
// endpoints, health checks and the invite QR endpoint.
package handlers

import (
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/yeqown/go-qrcode/v2"
	"github.com/yeqown/go-qrcode/writer/standard"
	"go.uber.org/zap"

	"matchrelay/internal/config"
	"matchrelay/internal/game"
	"matchrelay/internal/protocol"
	"matchrelay/internal/session"
)

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	coord    *game.Coordinator
	cfg      *config.ServerConfig
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// New creates a handler around a running coordinator.
func New(coord *game.Coordinator, cfg *config.ServerConfig, log *zap.Logger) *Handler {
	return &Handler{
		coord: coord,
		cfg:   cfg,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Game clients connect from arbitrary origins; usernames
			// are self-asserted anyway.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the connection and hands it to a new session.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	session.New(conn, h.coord, h.cfg, h.log).Start()
}

// Home answers the root probe request.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Hello world!"))
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HealthReady reports readiness to accept connections.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if h.coord == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Coordinator not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// InviteQR renders a PNG QR code of an invite id so a lobby can be
// shared out-of-band. The id is validated but not resolved: whether
// the room still exists is only known at join time.
func (h *Handler) InviteQR(w http.ResponseWriter, r *http.Request) {
	invite := r.URL.Query().Get("id")
	if _, err := protocol.ParseID(invite); err != nil {
		http.Error(w, "Invalid invite id", http.StatusBadRequest)
		return
	}

	qrc, err := qrcode.NewWith(invite,
		qrcode.WithErrorCorrectionLevel(qrcode.ErrorCorrectionMedium),
		qrcode.WithEncodingMode(qrcode.EncModeByte),
	)
	if err != nil {
		h.log.Error("building invite qr", zap.Error(err))
		http.Error(w, "Failed to build QR code", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	wr := standard.NewWithWriter(nopWriteCloser{w},
		standard.WithBuiltinImageEncoder(standard.PNG_FORMAT),
		standard.WithQRWidth(8),
	)
	if err := qrc.Save(wr); err != nil {
		h.log.Error("writing invite qr", zap.Error(err))
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
