package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/unified-bridge/internal/model"
)

// Stream frame types
const (
	FrameStatus = "status"
	FrameResult = "result"
	FrameError  = "error"
)

const (
	streamReadTimeout  = 30 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// StreamMessage is one frame sent on /bridge/stream
type StreamMessage struct {
	Type   string              `json:"type"`
	Status *model.StatusUpdate `json:"status,omitempty"`
	Result *BridgeResponse     `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// handleBridgeStream upgrades to a websocket, reads one BridgeParams message, then
// streams status frames followed by a single result frame. Closing the socket
// cancels the transfer.
func (s *Server) handleBridgeStream(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit.Allow() {
		s.observe("/bridge/stream", http.StatusTooManyRequests)
		s.errorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()
	s.observe("/bridge/stream", http.StatusSwitchingProtocols)

	conn.SetReadLimit(maxRequestBytes)
	_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	var params model.BridgeParams
	if err := conn.ReadJSON(&params); err != nil {
		writeFrame(conn, StreamMessage{Type: FrameError, Error: "invalid request: " + err.Error()})
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithTimeout(r.Context(), s.config.BridgeTimeout)
	defer cancel()

	// the client only ever closes; any read error means it went away
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	buffer := s.config.StatusBuffer
	if buffer <= 0 {
		buffer = 32
	}
	updates := make(chan model.StatusUpdate, buffer)
	params.Status = updates

	done := make(chan model.BridgeResult, 1)
	go func() { done <- s.manager.Bridge(ctx, params) }()

	for {
		select {
		case u := <-updates:
			if !writeFrame(conn, StreamMessage{Type: FrameStatus, Status: &u}) {
				cancel()
				return
			}
		case result := <-done:
			drainUpdates(conn, updates)
			resp := s.wrapResult(result)
			writeFrame(conn, StreamMessage{Type: FrameResult, Result: &resp})
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
				time.Now().Add(streamWriteTimeout))
			return
		}
	}
}

// drainUpdates flushes status updates that arrived before the result
func drainUpdates(conn *websocket.Conn, updates <-chan model.StatusUpdate) {
	for {
		select {
		case u := <-updates:
			if !writeFrame(conn, StreamMessage{Type: FrameStatus, Status: &u}) {
				return
			}
		default:
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, msg StreamMessage) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		logrus.WithError(err).Debug("Websocket write failed")
		return false
	}
	return true
}
