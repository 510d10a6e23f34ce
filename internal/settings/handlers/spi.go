package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Action is a SystemParametersInfo action code.
type Action uint32

// Known actions.
const (
	ActionSetDeskWallpaper       Action = 0x0014
	ActionSetNonClientMetrics    Action = 0x002A
	ActionSetFilterKeys          Action = 0x0033
	ActionSetStickyKeys          Action = 0x003B
	ActionSetHighContrast        Action = 0x0043
	ActionSetFontSmoothing       Action = 0x004B
	ActionSetCursors             Action = 0x0057
	ActionSetMouseTrails         Action = 0x005D
	ActionSetMouseSpeed          Action = 0x0071
	ActionSetClientAreaAnimation Action = 0x1043
)

var actionNames = map[string]Action{
	"SetDeskWallpaper":       ActionSetDeskWallpaper,
	"SetNonClientMetrics":    ActionSetNonClientMetrics,
	"SetFilterKeys":          ActionSetFilterKeys,
	"SetStickyKeys":          ActionSetStickyKeys,
	"SetHighContrast":        ActionSetHighContrast,
	"SetFontSmoothing":       ActionSetFontSmoothing,
	"SetCursors":             ActionSetCursors,
	"SetMouseTrails":         ActionSetMouseTrails,
	"SetMouseSpeed":          ActionSetMouseSpeed,
	"SetClientAreaAnimation": ActionSetClientAreaAnimation,
}

// ParseAction parses an action name. The "SPI_" prefix and case are ignored,
// so "SPI_SETCURSORS" and "SetCursors" are the same action.
func ParseAction(name string) (Action, error) {
	trimmed := strings.TrimPrefix(strings.ToUpper(name), "SPI_")
	for n, a := range actionNames {
		if strings.ToUpper(n) == trimmed {
			return a, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownAction, "%q", name)
}

// ActionNames returns the known action names, sorted.
func ActionNames() []string {
	out := make([]string, 0, len(actionNames))
	for n := range actionNames {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (a Action) String() string {
	for n, v := range actionNames {
		if v == a {
			return n
		}
	}
	return fmt.Sprintf("0x%04X", uint32(a))
}

// SystemParameters broadcasts system parameter changes.
type SystemParameters interface {
	Broadcast(action Action) error
}

// SPIFinalizer tells the system that a group of settings has changed.
type SPIFinalizer struct {
	action Action
	params SystemParameters
	log    zerolog.Logger
}

// NewSPIFinalizer creates a finalizer for a system parameters action.
func NewSPIFinalizer(cfg SystemParametersInfoConfig, params SystemParameters, log zerolog.Logger) (*SPIFinalizer, error) {
	action, err := ParseAction(cfg.Action)
	if err != nil {
		return nil, err
	}
	return &SPIFinalizer{
		action: action,
		params: params,
		log:    log.With().Stringer("action", action).Logger(),
	}, nil
}

// Action returns the action the finalizer broadcasts.
func (f *SPIFinalizer) Action() Action { return f.action }

// Finalize implements settings.Finalizer.
func (f *SPIFinalizer) Finalize(context.Context) bool {
	if err := f.params.Broadcast(f.action); err != nil {
		f.log.Error().Err(err).Msg("system parameters broadcast failed")
		return false
	}
	return true
}
