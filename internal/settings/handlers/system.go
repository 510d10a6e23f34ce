package handlers

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/stegru/morphic-windows/internal/settings"
)

// SystemSettings reads and writes OS settings by id.
type SystemSettings interface {
	GetSetting(ctx context.Context, id string) (any, error)
	SetSetting(ctx context.Context, id string, value any) error
}

// SystemHandler stores settings in the OS settings store.
type SystemHandler struct {
	cfg   SystemConfig
	store SystemSettings
	log   zerolog.Logger
}

// NewSystemHandler creates an OS setting handler.
func NewSystemHandler(cfg SystemConfig, store SystemSettings, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{cfg: cfg, store: store, log: log}
}

func (h *SystemHandler) settingID(s *settings.Setting) string {
	if h.cfg.SettingID != "" {
		return h.cfg.SettingID
	}
	return s.Name()
}

// Capture implements settings.Handler.
func (h *SystemHandler) Capture(ctx context.Context, s *settings.Setting) (any, bool) {
	id := h.settingID(s)
	v, err := h.store.GetSetting(ctx, id)
	if err != nil {
		h.log.Error().Err(err).Str("setting", s.ID()).Str("system_setting", id).Msg("cannot read system setting")
		return nil, false
	}
	return v, true
}

// Apply implements settings.Handler.
func (h *SystemHandler) Apply(ctx context.Context, s *settings.Setting, value any) bool {
	id := h.settingID(s)
	if err := h.store.SetSetting(ctx, id, value); err != nil {
		h.log.Error().Err(err).Str("setting", s.ID()).Str("system_setting", id).Msg("cannot write system setting")
		return false
	}
	return true
}
