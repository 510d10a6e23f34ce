package settings

import (
	"context"
	"fmt"
	"strings"
)

// Solution is a named settings provider made of setting groups.
type Solution struct {
	id        string
	solutions *Solutions
	groups    []*Group
	all       map[string]*Setting
}

// NewSolution creates a solution from its groups and indexes every setting.
// Setting ids must be unique across the solution.
func NewSolution(id string, groups []*Group) (*Solution, error) {
	sol := &Solution{
		id:     id,
		groups: groups,
		all:    make(map[string]*Setting),
	}
	for _, g := range groups {
		g.solution = sol
		for _, s := range g.settings {
			if _, exists := sol.all[s.id]; exists {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateSetting, s.id)
			}
			sol.all[s.id] = s
		}
	}
	return sol, nil
}

// ID returns the solution id.
func (sol *Solution) ID() string { return sol.id }

// Groups returns the setting groups in declaration order.
func (sol *Solution) Groups() []*Group {
	out := make([]*Group, len(sol.groups))
	copy(out, sol.groups)
	return out
}

// Settings returns every setting in declaration order.
func (sol *Solution) Settings() []*Setting {
	out := make([]*Setting, 0, len(sol.all))
	for _, g := range sol.groups {
		out = append(out, g.settings...)
	}
	return out
}

// GetSetting returns a setting by id.
func (sol *Solution) GetSetting(settingID string) (*Setting, error) {
	if s, ok := sol.all[settingID]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q in solution %q", ErrSettingNotFound, settingID, sol.id)
}

// ResolveSettingID resolves a setting referenced from within this solution.
// A bare id names a setting of this solution; a "solution/setting" id is
// resolved through the registry. It returns nil if nothing matches.
func (sol *Solution) ResolveSettingID(ref string) *Setting {
	if s, ok := sol.all[ref]; ok {
		return s
	}
	if strings.Contains(ref, "/") && sol.solutions != nil {
		if s, err := sol.solutions.ResolveSetting(ref); err == nil {
			return s
		}
	}
	return nil
}

// Capture reads every setting, one batch per group, into prefs.
func (sol *Solution) Capture(ctx context.Context, prefs *SolutionPreferences) {
	for _, g := range sol.groups {
		for _, v := range g.GetAll(ctx) {
			prefs.Set(v.Setting.id, v.Value)
		}
	}
}

// Apply writes prefs, one batch per group. Groups without any setting in
// prefs are left alone.
//
// When prefs.Previous is set, the current values of the overwritten
// settings are captured into it first. Otherwise the group's remaining
// settings are captured and written back with the new values, so handlers
// that rewrite a whole section or key always receive the complete group.
//
// A failing group does not stop the others; Apply reports whether every
// group succeeded.
func (sol *Solution) Apply(ctx context.Context, prefs *SolutionPreferences) bool {
	captureCurrent := prefs.Previous != nil
	success := true

	for _, g := range sol.groups {
		var values Values
		var rest []*Setting
		for _, s := range g.settings {
			raw, ok := prefs.Values[s.id]
			if !ok {
				rest = append(rest, s)
				continue
			}
			// Snapshots and the preference server hand back int64 and
			// float64 for numbers.
			v, ok := s.dataType.Coerce(raw)
			if !ok {
				g.log.Warn().
					Str("solution", sol.id).
					Str("setting", s.id).
					Str("type", s.dataType.String()).
					Interface("value", raw).
					Msg("preference does not match data type")
				success = false
				continue
			}
			values = append(values, Value{Setting: s, Value: v})
		}
		if len(values) == 0 {
			continue
		}

		if captureCurrent {
			for _, v := range g.Get(ctx, values.Settings()) {
				prefs.Previous.Set(v.Setting.id, v.Value)
			}
		} else if len(rest) > 0 {
			values = append(values, g.Get(ctx, rest)...)
		}

		if !g.SetAll(ctx, values) {
			g.log.Warn().Str("solution", sol.id).Str("kind", g.kind).Msg("group apply failed")
			success = false
		}
	}

	return success
}
