package settings

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Solutions is the registry of all known solutions. It is built once by
// Load and is read-only afterwards.
type Solutions struct {
	solutions map[string]*Solution
	ids       []string
	log       zerolog.Logger
}

// NewSolutions creates a registry from solutions with distinct ids.
func NewSolutions(log zerolog.Logger, solutions ...*Solution) (*Solutions, error) {
	r := &Solutions{
		solutions: make(map[string]*Solution, len(solutions)),
		log:       log,
	}
	for _, sol := range solutions {
		if _, exists := r.solutions[sol.id]; exists {
			return nil, fmt.Errorf("%w: duplicate solution %q", ErrInvalidDefinition, sol.id)
		}
		sol.solutions = r
		r.solutions[sol.id] = sol
		r.ids = append(r.ids, sol.id)
	}
	sort.Strings(r.ids)
	return r, nil
}

// Get returns a solution by id.
func (r *Solutions) Get(solutionID string) (*Solution, error) {
	if sol, ok := r.solutions[solutionID]; ok {
		return sol, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrSolutionNotFound, solutionID)
}

// IDs returns all solution ids, sorted.
func (r *Solutions) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// All returns all solutions sorted by id.
func (r *Solutions) All() []*Solution {
	out := make([]*Solution, len(r.ids))
	for i, id := range r.ids {
		out[i] = r.solutions[id]
	}
	return out
}

// GetSetting returns the setting named by a compound id.
func (r *Solutions) GetSetting(id SettingID) (*Setting, error) {
	sol, err := r.Get(id.Solution)
	if err != nil {
		return nil, err
	}
	return sol.GetSetting(id.Setting)
}

// ResolveSetting returns the setting named by a "solution/setting" string.
func (r *Solutions) ResolveSetting(compound string) (*Setting, error) {
	id, err := ParseSettingID(compound)
	if err != nil {
		return nil, err
	}
	return r.GetSetting(id)
}

// CaptureOptions controls Solutions.Capture.
type CaptureOptions struct {
	// ExcludeLocal leaves out settings marked local, for preference sets
	// that are copied to another computer.
	ExcludeLocal bool

	// Solutions restricts the capture to these solution ids. Empty means all.
	Solutions []string
}

// Capture captures a preference set.
func (r *Solutions) Capture(ctx context.Context, opts CaptureOptions) (*Preferences, error) {
	ids := opts.Solutions
	if len(ids) == 0 {
		ids = r.ids
	}

	prefs := NewPreferences()
	for _, id := range ids {
		sol, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		sp := prefs.Solution(id)
		sol.Capture(ctx, sp)
		if opts.ExcludeLocal {
			for settingID := range sp.Values {
				if s := sol.all[settingID]; s != nil && s.local {
					delete(sp.Values, settingID)
				}
			}
		}
	}
	return prefs, nil
}

// Apply applies a preference set. Solutions missing from the registry are
// logged and skipped; Apply reports whether everything was applied.
func (r *Solutions) Apply(ctx context.Context, prefs *Preferences) bool {
	success := true
	for _, id := range prefs.SolutionIDs() {
		sol, ok := r.solutions[id]
		if !ok {
			r.log.Warn().Str("solution", id).Msg("preferences for unknown solution")
			success = false
			continue
		}
		if !sol.Apply(ctx, prefs.Solutions[id]) {
			success = false
		}
	}
	return success
}

// ApplyValue sets a single setting by compound id, logging the outcome.
func (r *Solutions) ApplyValue(ctx context.Context, id SettingID, value any) bool {
	r.log.Info().Str("setting", id.String()).Msg("apply")

	s, err := r.GetSetting(id)
	if err != nil {
		r.log.Info().Err(err).Str("setting", id.String()).Msg("no handler for setting")
		return false
	}
	v, ok := s.dataType.Coerce(value)
	if !ok {
		r.log.Error().Str("setting", id.String()).Interface("value", value).Msg("value does not match data type")
		return false
	}
	if !s.SetValue(ctx, v) {
		r.log.Error().Str("setting", id.String()).Msg("failed to set")
		return false
	}
	return true
}
