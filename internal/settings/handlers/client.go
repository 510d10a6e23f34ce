package handlers

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/stegru/morphic-windows/internal/settings"
)

// PreferenceStore reads and writes preferences of a community.
type PreferenceStore interface {
	GetPreference(ctx context.Context, solution, preference string) (any, error)
	SetPreference(ctx context.Context, solution, preference string, value any) error
}

// ClientHandler stores settings as remote preferences. The preference name
// is the setting name unless the description names one.
type ClientHandler struct {
	cfg   ClientConfig
	store PreferenceStore
	log   zerolog.Logger
}

// NewClientHandler creates a remote preference handler.
func NewClientHandler(cfg ClientConfig, store PreferenceStore, log zerolog.Logger) *ClientHandler {
	return &ClientHandler{
		cfg:   cfg,
		store: store,
		log:   log.With().Str("preferences", cfg.Solution).Logger(),
	}
}

func (h *ClientHandler) preference(s *settings.Setting) string {
	if h.cfg.Preference != "" {
		return h.cfg.Preference
	}
	return s.Name()
}

// Capture implements settings.Handler.
func (h *ClientHandler) Capture(ctx context.Context, s *settings.Setting) (any, bool) {
	v, err := h.store.GetPreference(ctx, h.cfg.Solution, h.preference(s))
	if err != nil {
		h.log.Error().Err(err).Str("setting", s.ID()).Msg("cannot read preference")
		return nil, false
	}
	return v, true
}

// Apply implements settings.Handler.
func (h *ClientHandler) Apply(ctx context.Context, s *settings.Setting, value any) bool {
	if err := h.store.SetPreference(ctx, h.cfg.Solution, h.preference(s), value); err != nil {
		h.log.Error().Err(err).Str("setting", s.ID()).Msg("cannot write preference")
		return false
	}
	return true
}
