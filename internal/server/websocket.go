package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxgate/internal/connection"
	"github.com/MrWong99/voxgate/internal/orchestrator"
	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/pkg/types"
)

type configMessage struct {
	Type      string      `json:"type"`
	VoiceType types.Voice `json:"voiceType"`
}

type ackMessage struct {
	Status string `json:"status"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.CORSOrigins),
	})
	if err != nil {
		// Accept has already written the HTTP error.
		slog.Debug("websocket accept failed", "path", r.URL.Path, "err", err)
		return nil, false
	}
	return conn, true
}

// handleAudioSocket serves /ws/{clientId}. The socket becomes the client's
// registered connection, replacing any previous one. Binary messages are
// audio chunks; text messages are ignored.
func (s *Server) handleAudioSocket(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientId")
	conn, ok := s.accept(w, r)
	if !ok {
		return
	}
	conn.SetReadLimit(maxAudioMessage)

	s.sockets.Add(1)
	defer s.sockets.Done()
	ctx, cancel := s.socketContext(r.Context())
	defer cancel()

	conns := s.orch.Connections()
	sess := s.orch.Sessions().CreateOrUpdate(clientID, session.Update{})

	h := connection.NewWSHandle(conn,
		connection.WithQueueSize(s.cfg.OutboundQueue),
		connection.WithWriteTimeout(s.cfg.WriteTimeout),
	)
	if prev := conns.Connect(clientID, h); prev != nil {
		go prev.Close("replaced by a new connection")
	}
	conns.SetVoice(clientID, sess.Voice)

	s.metrics.ActiveConnections.Add(ctx, 1)
	log := slog.With("client_id", clientID, "conn_id", h.ID())
	log.Info("audio socket connected", "voice", sess.Voice)

	stream := s.orch.NewStream(clientID)
	go h.KeepAlive(ctx, s.cfg.HeartbeatInterval)

	defer func() {
		conns.Release(clientID, h)
		stream.Close()
		h.Close("connection closed")
		h.Wait()
		s.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)
		log.Info("audio socket disconnected")
	}()

	for {
		typ, data, err := h.Read(ctx)
		if err != nil {
			logReadEnd(log, err)
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		outcome, err := stream.HandleAudio(ctx, data)
		if err != nil {
			log.Warn("dropping malformed audio chunk", "bytes", len(data), "err", err)
			continue
		}
		if outcome != orchestrator.OutcomeBuffered {
			log.Debug("segment flushed", "outcome", outcome.String())
		}
	}
}

// handleConfigSocket serves /ws/{clientId}/config. It is never registered as
// the client's audio connection.
func (s *Server) handleConfigSocket(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientId")
	conn, ok := s.accept(w, r)
	if !ok {
		return
	}
	defer conn.CloseNow()

	s.sockets.Add(1)
	defer s.sockets.Done()
	ctx, cancel := s.socketContext(r.Context())
	defer cancel()

	log := slog.With("client_id", clientID)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			logReadEnd(log, err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var msg configMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug("invalid config message", "err", err)
			if err := wsjson.Write(ctx, conn, errorMessage{Type: "error", Message: "invalid config message"}); err != nil {
				return
			}
			continue
		}
		if msg.Type != "config" {
			continue
		}
		voice := s.orch.ConfigureVoice(clientID, msg.VoiceType)
		log.Info("voice configured", "voice", voice)
		if err := wsjson.Write(ctx, conn, ackMessage{Status: "ok"}); err != nil {
			log.Debug("config ack failed", "err", err)
			return
		}
	}
}

func logReadEnd(log *slog.Logger, err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		log.Debug("socket closed by peer")
	default:
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Debug("socket read ended", "err", err)
	}
}
