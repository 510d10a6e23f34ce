package settings

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		expr      string
		literal   bool
		setting   string
		increment int
		fallback  string
	}{
		{expr: "42", literal: true},
		{expr: " -7 ", literal: true},
		{expr: "brightness", setting: "brightness"},
		{expr: "brightness + 5", setting: "brightness", increment: 5},
		{expr: "brightness - 10 ? 0", setting: "brightness", increment: -10, fallback: "0"},
		{expr: "brightness ? contrast ? 3", setting: "brightness", fallback: "contrast ? 3"},
		{expr: "display/width - 1", setting: "display/width", increment: -1},
		{expr: "w?5", setting: "w", fallback: "5"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			l, err := ParseLimit(tt.expr)
			require.NoError(t, err)

			assert.Equal(t, tt.literal, l.isLiteral)
			assert.Equal(t, tt.setting, l.SettingRef())
			assert.Equal(t, tt.increment, l.increment)
			if tt.fallback == "" {
				assert.Nil(t, l.fallback)
			} else {
				require.NotNil(t, l.fallback)
				assert.Equal(t, tt.fallback, l.fallback.String())
			}
		})
	}
}

func TestParseLimit_Malformed(t *testing.T) {
	for _, expr := range []string{
		"",
		"a b",
		"x ?",
		"x + y",
		"x ? y z",
		"x +",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseLimit(expr)
			assert.ErrorIs(t, err, ErrMalformedLimit)
		})
	}
}

func TestLimit_Resolve(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		expr   string
		values map[string]any
		want   int
		wantOK bool
	}{
		{"literal", "12", nil, 12, true},
		{"reference unset uses default", "brightness - 10 ? 0", map[string]any{}, 0, true},
		{"reference set adds increment", "brightness - 10 ? 0", map[string]any{"brightness": 50}, 40, true},
		{"reference plus", "brightness + 3", map[string]any{"brightness": "7"}, 10, true},
		{"reference unset no default", "brightness", map[string]any{}, 0, false},
		{"chained default", "missing ? brightness ? 9", map[string]any{"brightness": 2}, 2, true},
		{"chained default falls through", "missing ? brightness ? 9", map[string]any{}, 9, true},
		{"unknown setting uses default", "nosuch ? 4", map[string]any{"brightness": 1}, 4, true},
		{"non numeric value uses default", "brightness ? 1", map[string]any{"brightness": "dim"}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(tt.values)
			limited := rangedSetting("limited", mustLimit(t, tt.expr), LiteralLimit(1000), 1)
			newTestSolution(t, "sol", store,
				SettingEntry{ID: "brightness", Setting: intSetting("brightness")},
				SettingEntry{ID: "limited", Setting: limited},
			)

			got, ok := limited.Range().MinLimit().Resolve(ctx)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
			assert.Equal(t, tt.want, limited.Range().MinLimit().Get(ctx, 0))
		})
	}
}

func TestLimit_ResolvesAcrossSolutions(t *testing.T) {
	ctx := context.Background()

	display := newMemStore(map[string]any{"width": 1920})
	dg := newTestGroup(t, &memHandler{store: display}, SettingEntry{ID: "width", Setting: intSetting("width")})
	displaySol, err := NewSolution("com.example.display", []*Group{dg})
	require.NoError(t, err)

	cursor := newMemStore(nil)
	pos := rangedSetting("x", LiteralLimit(-1), mustLimit(t, "com.example.display/width ? 800"), 1)
	cg := newTestGroup(t, &memHandler{store: cursor}, SettingEntry{ID: "x", Setting: pos})
	cursorSol, err := NewSolution("com.example.cursor", []*Group{cg})
	require.NoError(t, err)

	_, err = NewSolutions(zerolog.Nop(), displaySol, cursorSol)
	require.NoError(t, err)

	assert.Equal(t, 1920, pos.Range().Max(ctx, 0))
}

func TestLimit_Unresolved(t *testing.T) {
	store := newMemStore(nil)
	limited := rangedSetting("limited", mustLimit(t, "nosuch ? brightness ? other ? 1"), LiteralLimit(10), 1)
	newTestSolution(t, "sol", store,
		SettingEntry{ID: "brightness", Setting: intSetting("brightness")},
		SettingEntry{ID: "limited", Setting: limited},
	)

	assert.Equal(t, []string{"nosuch", "other"}, limited.Range().MinLimit().unresolved())
	assert.Empty(t, limited.Range().MaxLimit().unresolved())
}

func TestRange_CachesUnlessLive(t *testing.T) {
	ctx := context.Background()

	for _, live := range []bool{false, true} {
		store := newMemStore(map[string]any{"width": 100})
		s := NewSetting(SettingOptions{
			Name:     "pos",
			DataType: TypeInt,
			Range:    NewRange(LiteralLimit(0), mustLimit(t, "width"), 1, live),
		})
		newTestSolution(t, "sol", store,
			SettingEntry{ID: "width", Setting: intSetting("width")},
			SettingEntry{ID: "pos", Setting: s},
		)

		assert.Equal(t, 100, s.Range().Max(ctx, -1))
		store.set("width", 200)

		if live {
			assert.Equal(t, 200, s.Range().Max(ctx, -1), "live range re-resolves")
		} else {
			assert.Equal(t, 100, s.Range().Max(ctx, -1), "static range is cached")
			s.Range().Reset()
			assert.Equal(t, 200, s.Range().Max(ctx, -1), "reset range re-resolves")
		}
	}
}

func TestNewRange_IncrementDefault(t *testing.T) {
	r := NewRange(LiteralLimit(0), LiteralLimit(10), 0, false)
	assert.Equal(t, 1, r.Inc())
	assert.False(t, r.Live())
}
