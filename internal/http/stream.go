package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-query-service/internal/observability"
	"github.com/kjstillabower/weather-query-service/internal/render"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// StreamQuery handles GET /query/stream. It upgrades to a websocket, sends the current
// state view (idle before any fetch) and then every published state until the client
// goes away or CloseStreams is called. A slow client only ever sees the latest state.
func (h *Handler) StreamQuery(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerFromContext(r.Context(), h.logger)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		logger.Debug("stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel := h.controller.Subscribe()
	defer cancel()

	observability.StreamSubscribers.Inc()
	defer observability.StreamSubscribers.Dec()
	logger.Debug("stream opened")

	// Client messages are ignored; reading is how close frames and pongs are seen.
	clientGone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// updates already holds the current state when there is one.
	if _, ok := h.controller.Current(); !ok {
		if err := writeView(conn, render.IdleView()); err != nil {
			logger.Debug("stream write failed", zap.Error(err))
			return
		}
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case res, ok := <-updates:
			if !ok {
				return
			}
			if err := writeView(conn, render.ViewOf(res)); err != nil {
				logger.Debug("stream write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientGone:
			logger.Debug("stream closed by client")
			return
		case <-h.streamsDone:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(streamWriteWait))
			return
		}
	}
}

func writeView(conn *websocket.Conn, v render.View) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(v)
}

// CloseStreams ends every open /query/stream connection. http.Server.Shutdown does not
// track hijacked connections, so call this during shutdown. Safe to call more than once.
func (h *Handler) CloseStreams() {
	h.closeOnce.Do(func() { close(h.streamsDone) })
}
