package main

import (
	"context"
	"net/http"
	"time"

	"wabridge/internal/metrics"
	"wabridge/internal/service"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	eventWriteTimeout = 5 * time.Second
	eventPingInterval = 30 * time.Second
)

// handleEvents upgrades to a websocket and streams hub events until either
// side goes away. Client messages are ignored.
func (s *Server) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := service.LogWithContext(r.Context(), s.logger).WithField(service.LogFieldComponent, "events")

		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: s.cfg.Server.EventStreamOriginHosts,
		})
		if err != nil {
			logger.WithError(err).Warn("Failed to accept event stream")
			return
		}
		defer conn.CloseNow()

		events, cancel := s.deps.Hub.Subscribe()
		defer cancel()
		metrics.IncrementCounter("event_streams_total", nil, "Event stream connections accepted")
		logger.Info("Event stream connected")

		ctx := conn.CloseRead(r.Context())
		ping := time.NewTicker(eventPingInterval)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Debug("Event stream closed by client")
				return
			case evt, ok := <-events:
				if !ok {
					_ = conn.Close(websocket.StatusGoingAway, "stream closed")
					return
				}
				writeCtx, done := context.WithTimeout(ctx, eventWriteTimeout)
				err := wsjson.Write(writeCtx, conn, evt)
				done()
				if err != nil {
					logger.WithError(err).Debug("Failed to write event")
					return
				}
			case <-ping.C:
				pingCtx, done := context.WithTimeout(ctx, eventWriteTimeout)
				err := conn.Ping(pingCtx)
				done()
				if err != nil {
					logger.WithError(err).Debug("Event stream ping failed")
					return
				}
			}
		}
	}
}

// closeEventStreams is a hook for shutdown; hijacked connections are not
// tracked by http.Server.Shutdown.
func (s *Server) closeEventStreams() {
	s.deps.Hub.Close()
}
