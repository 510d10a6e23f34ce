package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stegru/morphic-windows/internal/settings"
)

func samplePreferences() *settings.Preferences {
	p := settings.NewPreferences()
	p.Set(settings.NewSettingID("com.example.sound", "volume"), 55)
	p.Set(settings.NewSettingID("com.example.sound", "muted"), false)
	p.Set(settings.NewSettingID("com.example.sound", "device"), "speakers")
	p.Set(settings.HighContrastEnabled, true)
	p.Set(settings.NewSettingID("com.example.display", "gamma"), 1.25)
	return p
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "snapshots"), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestEncodeDecode(t *testing.T) {
	in := &Snapshot{
		ID:          "id",
		Name:        "before apply",
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Preferences: samplePreferences(),
	}
	raw, err := Encode(in)
	require.NoError(t, err)
	assert.Equal(t, MagicBytes, string(raw[:4]))

	out, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Name, out.Name)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.Preferences.Len(), out.Preferences.Len())

	for _, sol := range in.Preferences.SolutionIDs() {
		for k, want := range in.Preferences.Solutions[sol].Values {
			got, ok := out.Preferences.Get(settings.NewSettingID(sol, k))
			require.True(t, ok, "%s/%s", sol, k)
			assert.EqualValues(t, want, got, "%s/%s", sol, k)
		}
	}
}

func TestDecode_Corrupt(t *testing.T) {
	raw, err := Encode(&Snapshot{ID: "x", Preferences: samplePreferences()})
	require.NoError(t, err)

	flip := func(i int) []byte {
		b := append([]byte(nil), raw...)
		b[i] ^= 0xFF
		return b
	}

	tests := map[string][]byte{
		"empty":          nil,
		"short":          raw[:headerSize-1],
		"truncated":      raw[:len(raw)-1],
		"magic":          flip(0),
		"version":        flip(5),
		"payload":        flip(len(raw) - 1),
		"trailing":       append(append([]byte(nil), raw...), 0),
		"not a snapshot": []byte(strings.Repeat("x", 64)),
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(b)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestStore_SaveLoad(t *testing.T) {
	s := newTestStore(t)

	snap, err := s.Save("initial", samplePreferences())
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.FileExists(t, filepath.Join(s.Dir(), snap.ID+".snap"))

	got, err := s.Load(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "initial", got.Name)

	v, ok := got.Preferences.Get(settings.NewSettingID("com.example.sound", "volume"))
	require.True(t, ok)
	assert.EqualValues(t, 55, v)

	// Restored values coerce back to the setting's type.
	coerced, ok := settings.TypeInt.Coerce(v)
	require.True(t, ok)
	assert.Equal(t, 55, coerced)
}

func TestStore_ListAndLatest(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	_, err := s.Latest()
	assert.ErrorIs(t, err, ErrNotFound)

	first, err := s.Save("first", samplePreferences())
	require.NoError(t, err)
	second, err := s.Save("second", nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "junk.snap"), []byte("junk"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o644))

	infos, err := s.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, second.ID, infos[0].ID)
	assert.Equal(t, first.ID, infos[1].ID)
	assert.Equal(t, 5, infos[1].Values)
	assert.Zero(t, infos[0].Values)

	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, "second", latest.Name)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	snap, err := s.Save("gone", samplePreferences())
	require.NoError(t, err)

	require.NoError(t, s.Delete(snap.ID))
	_, err = s.Load(snap.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(snap.ID), ErrNotFound)
}

func TestStore_RejectsInvalidIDs(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", "../etc/passwd", "abc"} {
		_, err := s.Load(id)
		assert.ErrorIs(t, err, ErrNotFound, id)
		assert.ErrorIs(t, s.Delete(id), ErrNotFound, id)
	}
}

func TestStore_CorruptFile(t *testing.T) {
	s := newTestStore(t)
	snap, err := s.Save("x", samplePreferences())
	require.NoError(t, err)

	path := filepath.Join(s.Dir(), snap.ID+".snap")
	require.NoError(t, os.WriteFile(path, []byte("MSNPgarbage-garbage-garbage"), 0o644))

	_, err = s.Load(snap.ID)
	assert.ErrorIs(t, err, ErrCorrupt)
}
