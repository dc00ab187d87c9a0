package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/pkg/types"
)

// Configure creates or updates the session for clientID with voice (coerced
// to the valid set) and clears its pause flag. A registered audio connection
// has its cached voice updated too.
func (o *Orchestrator) Configure(clientID string, voice types.Voice) (session.Session, error) {
	if clientID == "" {
		return session.Session{}, fmt.Errorf("%w: clientId is required", ErrValidation)
	}
	resumed := false
	s := o.sessions.CreateOrUpdate(clientID, session.Update{
		Voice:  o.sessions.Voices().Resolve(voice),
		Paused: &resumed,
	})
	o.conns.SetVoice(clientID, s.Voice)
	slog.Info("session configured", "client_id", clientID, "voice", s.Voice)
	return s, nil
}

// ConfigureVoice updates only the voice, as sent over the config socket. It
// creates the session when absent. An empty voice keeps the current one; an
// unknown voice falls back to the default.
func (o *Orchestrator) ConfigureVoice(clientID string, voice types.Voice) types.Voice {
	s := o.sessions.CreateOrUpdate(clientID, session.Update{Voice: voice})
	o.conns.SetVoice(clientID, s.Voice)
	return s.Voice
}

// Pause sets the pause flag. It returns [ErrSessionNotFound] when the client
// has no session; the store is left unchanged in that case.
func (o *Orchestrator) Pause(clientID string, paused bool) error {
	if clientID == "" {
		return fmt.Errorf("%w: clientId is required", ErrValidation)
	}
	if !o.sessions.SetPaused(clientID, paused) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, clientID)
	}
	slog.Info("session pause changed", "client_id", clientID, "paused", paused)
	return nil
}

// End deletes the session and its history. Ending an unknown client is not an
// error. The audio connection, if any, stays open.
func (o *Orchestrator) End(ctx context.Context, clientID string) {
	if o.sessions.Delete(clientID) {
		slog.InfoContext(ctx, "session ended", "client_id", clientID)
	}
}
