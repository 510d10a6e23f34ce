package settings

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Deps are the collaborators used when building solutions.
type Deps struct {
	// Logger is the parent logger for groups and the registry.
	Logger zerolog.Logger

	// Handlers builds the handler and finalizer of each group.
	Handlers HandlerFactory

	// Monitor watches settings that declare a Changes descriptor.
	// Nil disables monitoring.
	Monitor Monitor
}

type settingDef struct {
	Name     string    `mapstructure:"name"`
	DataType string    `mapstructure:"dataType"`
	Local    bool      `mapstructure:"local"`
	Range    *rangeDef `mapstructure:"range"`
	Changes  any       `mapstructure:"changes"`
}

type rangeDef struct {
	Min  any  `mapstructure:"min"`
	Max  any  `mapstructure:"max"`
	Inc  int  `mapstructure:"inc"`
	Live bool `mapstructure:"live"`
}

type changesDef struct {
	MonitorType string `mapstructure:"monitorType"`
	Path        string `mapstructure:"path"`
}

// LoadFile loads solution definitions from a YAML or JSON file.
func LoadFile(path string, deps Deps) (*Solutions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Err: fmt.Errorf("open %s: %w", path, err)}
	}
	defer f.Close()
	return Load(f, deps)
}

// Load reads solution definitions and builds the registry.
//
// Handler descriptions are passed to deps.Handlers, which rejects unknown
// kinds. Duplicate setting ids, malformed limits, unknown data types and
// unsupported monitor types fail the whole load. Limits referencing
// settings that do not exist are only logged: they fall through to their
// defaults when resolved.
func Load(r io.Reader, deps Deps) (*Solutions, error) {
	if deps.Handlers == nil {
		return nil, &LoadError{Err: fmt.Errorf("%w: no handler factory", ErrInvalidDefinition)}
	}

	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return NewSolutions(deps.Logger)
		}
		return nil, &LoadError{Err: fmt.Errorf("%w: %v", ErrInvalidDefinition, err)}
	}

	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, &LoadError{Err: fmt.Errorf("%w: document is not a mapping", ErrInvalidDefinition)}
	}

	solutionsNode := mappingValue(root, "solutions")
	if solutionsNode == nil {
		return NewSolutions(deps.Logger)
	}
	if solutionsNode.Kind != yaml.MappingNode {
		return nil, &LoadError{Err: fmt.Errorf("%w: solutions is not a mapping", ErrInvalidDefinition)}
	}

	var solutions []*Solution
	for i := 0; i+1 < len(solutionsNode.Content); i += 2 {
		id := solutionsNode.Content[i].Value
		sol, err := loadSolution(id, solutionsNode.Content[i+1], deps)
		if err != nil {
			return nil, err
		}
		solutions = append(solutions, sol)
	}

	reg, err := NewSolutions(deps.Logger, solutions...)
	if err != nil {
		return nil, &LoadError{Err: err}
	}

	reportUnresolvedLimits(reg, deps.Logger)
	return reg, nil
}

func loadSolution(id string, node *yaml.Node, deps Deps) (*Solution, error) {
	if node.Kind != yaml.MappingNode {
		return nil, &LoadError{Solution: id, Err: fmt.Errorf("%w: solution is not a mapping", ErrInvalidDefinition)}
	}

	var groups []*Group
	if groupsNode := mappingValue(node, "settings"); groupsNode != nil {
		if groupsNode.Kind != yaml.SequenceNode {
			return nil, &LoadError{Solution: id, Err: fmt.Errorf("%w: settings is not a list", ErrInvalidDefinition)}
		}
		for _, gn := range groupsNode.Content {
			g, err := loadGroup(id, gn, deps)
			if err != nil {
				return nil, err
			}
			groups = append(groups, g)
		}
	}

	sol, err := NewSolution(id, groups)
	if err != nil {
		return nil, &LoadError{Solution: id, Err: err}
	}
	return sol, nil
}

func loadGroup(solutionID string, node *yaml.Node, deps Deps) (*Group, error) {
	fail := func(err error) (*Group, error) {
		return nil, &LoadError{Solution: solutionID, Err: err}
	}
	if node.Kind != yaml.MappingNode {
		return fail(fmt.Errorf("%w: group is not a mapping", ErrInvalidDefinition))
	}

	desc := make(map[string]any)
	var settingsNode, finalizerNode *yaml.Node
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "settings":
			settingsNode = value
		case "finalizer":
			finalizerNode = value
		default:
			var v any
			if err := value.Decode(&v); err != nil {
				return fail(fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, key, err))
			}
			desc[key] = v
		}
	}

	handler, err := deps.Handlers.NewHandler(desc)
	if err != nil {
		return fail(err)
	}

	var finalizer Finalizer
	if finalizerNode != nil {
		var fdesc map[string]any
		if err := finalizerNode.Decode(&fdesc); err != nil {
			return fail(fmt.Errorf("%w: finalizer: %v", ErrInvalidDefinition, err))
		}
		if finalizer, err = deps.Handlers.NewFinalizer(fdesc); err != nil {
			return fail(err)
		}
	}

	var entries []SettingEntry
	if settingsNode != nil {
		if settingsNode.Kind != yaml.MappingNode {
			return fail(fmt.Errorf("%w: group settings is not a mapping", ErrInvalidDefinition))
		}
		for i := 0; i+1 < len(settingsNode.Content); i += 2 {
			id := settingsNode.Content[i].Value
			s, err := loadSetting(settingsNode.Content[i+1])
			if err != nil {
				return nil, &LoadError{Solution: solutionID, Setting: id, Err: err}
			}
			if s.changes != nil && deps.Monitor != nil && !deps.Monitor.Supports(s.changes.MonitorType) {
				return nil, &LoadError{Solution: solutionID, Setting: id,
					Err: fmt.Errorf("%w: %q", ErrUnsupportedMonitor, s.changes.MonitorType)}
			}
			if cc, ok := deps.Monitor.(ChangesChecker); ok && s.changes != nil {
				if err := cc.CheckChanges(*s.changes); err != nil {
					return nil, &LoadError{Solution: solutionID, Setting: id,
						Err: fmt.Errorf("%w: %w", ErrInvalidDefinition, err)}
				}
			}
			entries = append(entries, SettingEntry{ID: id, Setting: s})
		}
	}

	kind, _ := desc["type"].(string)
	g, err := NewGroup(GroupOptions{
		Kind:      kind,
		Handler:   handler,
		Finalizer: finalizer,
		Monitor:   deps.Monitor,
		Logger:    deps.Logger.With().Str("solution", solutionID).Str("kind", kind).Logger(),
	}, entries)
	if err != nil {
		return fail(err)
	}
	return g, nil
}

func loadSetting(node *yaml.Node) (*Setting, error) {
	if node.Kind == yaml.ScalarNode {
		return ParseCompactSetting(node.Value)
	}

	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	var def settingDef
	if err := decodeStrict(raw, &def); err != nil {
		return nil, err
	}

	dataType, err := ParseDataType(def.DataType)
	if err != nil {
		return nil, err
	}

	opts := SettingOptions{
		Name:     def.Name,
		DataType: dataType,
		Local:    def.Local,
	}

	if def.Range != nil {
		if opts.Range, err = buildRange(def.Range); err != nil {
			return nil, err
		}
	}

	if def.Changes != nil {
		if opts.Changes, err = buildChanges(def.Changes); err != nil {
			return nil, err
		}
	}

	return NewSetting(opts), nil
}

func buildRange(def *rangeDef) (*Range, error) {
	if def.Min == nil || def.Max == nil {
		return nil, fmt.Errorf("%w: range needs min and max", ErrInvalidDefinition)
	}
	lower, err := limitFrom(def.Min)
	if err != nil {
		return nil, err
	}
	upper, err := limitFrom(def.Max)
	if err != nil {
		return nil, err
	}
	return NewRange(lower, upper, def.Inc, def.Live), nil
}

func limitFrom(v any) (*Limit, error) {
	switch n := v.(type) {
	case string:
		return ParseLimit(n)
	case float64:
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("%w: %v is not an integer", ErrMalformedLimit, n)
		}
		return LiteralLimit(int(n)), nil
	default:
		i, ok := asInt(v)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrMalformedLimit, v)
		}
		return LiteralLimit(i), nil
	}
}

func buildChanges(v any) (*Changes, error) {
	if s, ok := v.(string); ok {
		return ParseChanges(s)
	}
	var def changesDef
	if err := decodeStrict(v, &def); err != nil {
		return nil, err
	}
	if def.MonitorType == "" || def.Path == "" {
		return nil, fmt.Errorf("%w: changes needs monitorType and path", ErrInvalidDefinition)
	}
	return &Changes{MonitorType: def.MonitorType, Path: def.Path}, nil
}

// decodeStrict decodes a generic map into a definition struct, rejecting
// unknown fields.
func decodeStrict(input, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      target,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func reportUnresolvedLimits(reg *Solutions, log zerolog.Logger) {
	for _, sol := range reg.All() {
		for _, s := range sol.Settings() {
			if s.rng == nil {
				continue
			}
			for _, l := range []*Limit{s.rng.min, s.rng.max} {
				for _, ref := range l.unresolved() {
					log.Warn().
						Str("solution", sol.id).
						Str("setting", s.id).
						Str("reference", ref).
						Msg("range limit references an unknown setting")
				}
			}
		}
	}
}
