package settings

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// limitPattern is "settingId [ (+|-) increment ] [ ? default ]". The default
// is parsed again as a limit.
var limitPattern = regexp.MustCompile(
	`^(?P<setting>[^\s?]+)(?:\s+(?P<sign>[-+])\s*(?P<increment>\d+))?(?:\s*\?\s*(?P<default>\S.*))?$`)

// Limit is a range bound: a literal integer, or a reference to another
// setting with an optional increment and fallback.
type Limit struct {
	expr      string
	literal   int
	isLiteral bool
	settingID string
	increment int
	fallback  *Limit

	parent *Setting

	mu     sync.Mutex
	target *Setting
}

// LiteralLimit returns a limit with a fixed value.
func LiteralLimit(n int) *Limit {
	return &Limit{expr: strconv.Itoa(n), literal: n, isLiteral: true}
}

// ParseLimit parses a limit expression. A numeric string is a literal.
func ParseLimit(expr string) (*Limit, error) {
	expr = strings.TrimSpace(expr)
	if n, err := strconv.Atoi(expr); err == nil {
		return LiteralLimit(n), nil
	}

	m := limitPattern.FindStringSubmatch(expr)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedLimit, expr)
	}

	l := &Limit{
		expr:      expr,
		settingID: m[limitPattern.SubexpIndex("setting")],
	}

	if inc := m[limitPattern.SubexpIndex("increment")]; inc != "" {
		n, err := strconv.Atoi(inc)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedLimit, expr, err)
		}
		if m[limitPattern.SubexpIndex("sign")] == "-" {
			n = -n
		}
		l.increment = n
	}

	if def := m[limitPattern.SubexpIndex("default")]; def != "" {
		fallback, err := ParseLimit(def)
		if err != nil {
			return nil, err
		}
		l.fallback = fallback
	}

	return l, nil
}

// String returns the source expression.
func (l *Limit) String() string {
	return l.expr
}

// SettingRef returns the referenced setting id, or "" for a literal.
func (l *Limit) SettingRef() string {
	return l.settingID
}

func (l *Limit) bind(parent *Setting) {
	l.parent = parent
	if l.fallback != nil {
		l.fallback.bind(parent)
	}
}

// Resolve computes the bound. It reports false when the limit references
// a setting without a value and has no default that resolves.
func (l *Limit) Resolve(ctx context.Context) (int, bool) {
	if l.isLiteral {
		return l.literal, true
	}

	if target := l.resolveTarget(); target != nil {
		if v, ok := target.IntValue(ctx); ok {
			return v + l.increment, true
		}
	}

	if l.fallback != nil {
		return l.fallback.Resolve(ctx)
	}
	return 0, false
}

// Get resolves the bound, returning def when it has no value.
func (l *Limit) Get(ctx context.Context, def int) int {
	if v, ok := l.Resolve(ctx); ok {
		return v
	}
	return def
}

func (l *Limit) resolveTarget() *Setting {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.target == nil && l.settingID != "" && l.parent != nil {
		if sol := l.parent.Solution(); sol != nil {
			l.target = sol.ResolveSettingID(l.settingID)
		}
	}
	return l.target
}

// unresolved returns the setting references of this limit chain that do
// not resolve to a known setting.
func (l *Limit) unresolved() []string {
	var missing []string
	for cur := l; cur != nil; cur = cur.fallback {
		if cur.isLiteral || cur.settingID == "" {
			continue
		}
		if cur.resolveTarget() == nil {
			missing = append(missing, cur.settingID)
		}
	}
	return missing
}
