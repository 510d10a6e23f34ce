package settings

import "sort"

// SolutionPreferences is the preference bag of one solution: setting id to
// value.
type SolutionPreferences struct {
	Values map[string]any `msgpack:"values" yaml:"values"`

	// Previous, when set, receives the current values of the settings an
	// Apply overwrites, so the apply can be undone.
	Previous *SolutionPreferences `msgpack:"-" yaml:"-"`
}

// NewSolutionPreferences creates an empty preference bag.
func NewSolutionPreferences() *SolutionPreferences {
	return &SolutionPreferences{Values: make(map[string]any)}
}

// Set records a value.
func (p *SolutionPreferences) Set(settingID string, v any) {
	if p.Values == nil {
		p.Values = make(map[string]any)
	}
	p.Values[settingID] = v
}

// Get returns a recorded value.
func (p *SolutionPreferences) Get(settingID string) (any, bool) {
	v, ok := p.Values[settingID]
	return v, ok
}

// Preferences is a preference set covering several solutions.
type Preferences struct {
	Solutions map[string]*SolutionPreferences `msgpack:"solutions" yaml:"solutions"`
}

// NewPreferences creates an empty preference set.
func NewPreferences() *Preferences {
	return &Preferences{Solutions: make(map[string]*SolutionPreferences)}
}

// Solution returns the bag for a solution, creating it if needed.
func (p *Preferences) Solution(solutionID string) *SolutionPreferences {
	if p.Solutions == nil {
		p.Solutions = make(map[string]*SolutionPreferences)
	}
	sp, ok := p.Solutions[solutionID]
	if !ok {
		sp = NewSolutionPreferences()
		p.Solutions[solutionID] = sp
	}
	return sp
}

// Set records a value by compound id.
func (p *Preferences) Set(id SettingID, v any) {
	p.Solution(id.Solution).Set(id.Setting, v)
}

// Get returns a value by compound id.
func (p *Preferences) Get(id SettingID) (any, bool) {
	sp, ok := p.Solutions[id.Solution]
	if !ok {
		return nil, false
	}
	return sp.Get(id.Setting)
}

// SolutionIDs returns the solution ids in sorted order.
func (p *Preferences) SolutionIDs() []string {
	ids := make([]string, 0, len(p.Solutions))
	for id := range p.Solutions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the total number of values.
func (p *Preferences) Len() int {
	n := 0
	for _, sp := range p.Solutions {
		n += len(sp.Values)
	}
	return n
}
