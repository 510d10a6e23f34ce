package handlers

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stegru/morphic-windows/internal/settings"
)

// memRegistry is an in-memory RegistryStore.
type memRegistry struct {
	mu    sync.Mutex
	keys  map[string]map[string]any
	kinds map[string]ValueKind
	opens int
}

func newMemRegistry() *memRegistry {
	return &memRegistry{keys: make(map[string]map[string]any), kinds: make(map[string]ValueKind)}
}

func (r *memRegistry) OpenKey(path string, write bool) (RegistryKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens++
	if _, ok := r.keys[path]; !ok {
		if !write {
			return nil, errors.Errorf("key %s not found", path)
		}
		r.keys[path] = make(map[string]any)
	}
	return &memKey{reg: r, path: path}, nil
}

type memKey struct {
	reg  *memRegistry
	path string
}

func (k *memKey) GetValue(name string) (any, error) {
	k.reg.mu.Lock()
	defer k.reg.mu.Unlock()
	v, ok := k.reg.keys[k.path][name]
	if !ok {
		return nil, errors.Wrap(ErrValueNotFound, name)
	}
	return v, nil
}

func (k *memKey) SetValue(name string, kind ValueKind, value any) error {
	k.reg.mu.Lock()
	defer k.reg.mu.Unlock()
	k.reg.keys[k.path][name] = value
	k.reg.kinds[k.path+`\`+name] = kind
	return nil
}

func (k *memKey) Close() error { return nil }

type mockParameters struct{ mock.Mock }

func (m *mockParameters) Broadcast(action Action) error {
	return m.Called(action).Error(0)
}

type mockPreferences struct{ mock.Mock }

func (m *mockPreferences) GetPreference(ctx context.Context, solution, preference string) (any, error) {
	args := m.Called(ctx, solution, preference)
	return args.Get(0), args.Error(1)
}

func (m *mockPreferences) SetPreference(ctx context.Context, solution, preference string, value any) error {
	return m.Called(ctx, solution, preference, value).Error(0)
}

type mockSystem struct{ mock.Mock }

func (m *mockSystem) GetSetting(ctx context.Context, id string) (any, error) {
	args := m.Called(ctx, id)
	return args.Get(0), args.Error(1)
}

func (m *mockSystem) SetSetting(ctx context.Context, id string, value any) error {
	return m.Called(ctx, id, value).Error(0)
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{TypeRegistry, KindRegistry},
		{TypeIni, KindIni},
		{TypeSystemParametersInfo, KindSystemParametersInfo},
		{TypeClient, KindClient},
		{TypeSystem, KindSystem},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.in, got.String())
	}

	_, err := ParseKind("com.microsoft.windows.display")
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Equal(t, "unknown", KindUnknown.String())
	assert.True(t, KindSystemParametersInfo.IsFinalizerOnly())
	assert.False(t, KindIni.IsFinalizerOnly())
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		desc    map[string]any
		check   func(t *testing.T, d Description)
		wantErr error
	}{
		{
			name: "registry",
			desc: map[string]any{"type": TypeRegistry, "key_name": `HKCU\Control Panel\Desktop`, "value_name": "Wallpaper", "value_type": "String"},
			check: func(t *testing.T, d Description) {
				require.NotNil(t, d.Registry)
				assert.Equal(t, `HKCU\Control Panel\Desktop`, d.Registry.KeyName)
				assert.Equal(t, "Wallpaper", d.Registry.ValueName)
			},
		},
		{
			name: "ini",
			desc: map[string]any{"type": TypeIni, "filename": "$(APPDATA)/a.ini", "section": "S", "key": "K"},
			check: func(t *testing.T, d Description) {
				require.NotNil(t, d.Ini)
				assert.Equal(t, IniConfig{Filename: "$(APPDATA)/a.ini", Section: "S", Key: "K"}, *d.Ini)
			},
		},
		{
			name: "system parameters",
			desc: map[string]any{"type": TypeSystemParametersInfo, "action": "SPI_SETCURSORS"},
			check: func(t *testing.T, d Description) {
				require.NotNil(t, d.SystemParametersInfo)
				assert.Equal(t, KindSystemParametersInfo, d.Kind)
			},
		},
		{
			name: "client",
			desc: map[string]any{"type": TypeClient, "solution": "org.example.bar", "preference": "size"},
			check: func(t *testing.T, d Description) {
				assert.Equal(t, ClientConfig{Solution: "org.example.bar", Preference: "size"}, *d.Client)
			},
		},
		{
			name: "system",
			desc: map[string]any{"type": TypeSystem, "setting_id": "SystemSettings_Accessibility_Narrator"},
			check: func(t *testing.T, d Description) {
				assert.Equal(t, "SystemSettings_Accessibility_Narrator", d.System.SettingID)
			},
		},
		{name: "missing type", desc: map[string]any{"filename": "x"}, wantErr: ErrUnknownKind},
		{name: "unknown type", desc: map[string]any{"type": "x.y"}, wantErr: ErrUnknownKind},
		{name: "unknown field", desc: map[string]any{"type": TypeIni, "filename": "a", "colour": "red"}, wantErr: ErrInvalidDescription},
		{name: "ini without filename", desc: map[string]any{"type": TypeIni}, wantErr: ErrInvalidDescription},
		{name: "registry without key", desc: map[string]any{"type": TypeRegistry}, wantErr: ErrInvalidDescription},
		{name: "registry bad value type", desc: map[string]any{"type": TypeRegistry, "key_name": "HKCU", "value_type": "float"}, wantErr: ErrInvalidDescription},
		{name: "client without solution", desc: map[string]any{"type": TypeClient}, wantErr: ErrInvalidDescription},
		{name: "unknown action", desc: map[string]any{"type": TypeSystemParametersInfo, "action": "SetEverything"}, wantErr: ErrUnknownAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Decode(tt.desc)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, d)
		})
	}
}

func TestParseAction(t *testing.T) {
	for _, name := range []string{"SetCursors", "setcursors", "SPI_SETCURSORS"} {
		a, err := ParseAction(name)
		require.NoError(t, err, name)
		assert.Equal(t, ActionSetCursors, a)
	}
	assert.Equal(t, "SetCursors", ActionSetCursors.String())
	assert.Equal(t, "0x1234", Action(0x1234).String())
	assert.Contains(t, ActionNames(), "SetHighContrast")
}

func TestFactory_KindPlacement(t *testing.T) {
	f := &Factory{Logger: zerolog.Nop()}

	_, err := f.NewHandler(map[string]any{"type": TypeSystemParametersInfo, "action": "SetCursors"})
	assert.ErrorIs(t, err, ErrFinalizerOnly)

	_, err = f.NewFinalizer(map[string]any{"type": TypeIni, "filename": "a.ini"})
	assert.ErrorIs(t, err, ErrNotFinalizer)

	h, err := f.NewHandler(map[string]any{"type": TypeIni, "filename": "a.ini"})
	require.NoError(t, err)
	assert.IsType(t, &IniHandler{}, h)

	fin, err := f.NewFinalizer(map[string]any{"type": TypeSystemParametersInfo, "action": "SetCursors"})
	require.NoError(t, err)
	assert.Equal(t, ActionSetCursors, fin.(*SPIFinalizer).Action())
}

func TestFactory_UnconfiguredCapabilitiesFail(t *testing.T) {
	ctx := context.Background()
	doc := `
solutions:
  s:
    settings:
      - type: org.raisingthefloor.morphic.client
        solution: org.example.bar
        settings: { size: "size:int" }
      - type: com.microsoft.windows.system
        settings: { narrator: "SystemSettings_Narrator:bool" }
      - type: com.microsoft.windows.registry
        key_name: HKCU\Software\Example
        finalizer: { type: com.microsoft.windows.systemParametersInfo, action: SetCursors }
        settings: { scheme: "Scheme:string" }
`
	reg, err := settings.Load(strings.NewReader(doc), settings.Deps{
		Logger:   zerolog.Nop(),
		Handlers: &Factory{Logger: zerolog.Nop()},
	})
	require.NoError(t, err)

	for _, id := range []string{"s/size", "s/narrator", "s/scheme"} {
		s, err := reg.ResolveSetting(id)
		require.NoError(t, err)
		_, ok := s.Lookup(ctx)
		assert.False(t, ok, id)
		assert.False(t, s.SetValue(ctx, 1), id)
	}
}

func TestRegistryHandler(t *testing.T) {
	ctx := context.Background()
	reg := newMemRegistry()
	params := &mockParameters{}
	params.On("Broadcast", ActionSetCursors).Return(nil)

	factory := &Factory{Logger: zerolog.Nop(), Registry: reg, Parameters: params}
	doc := `
solutions:
  com.microsoft.windows.cursor:
    settings:
      - type: com.microsoft.windows.registry
        key_name: HKEY_CURRENT_USER\Control Panel\Cursors
        finalizer: { type: com.microsoft.windows.systemParametersInfo, action: SetCursors }
        settings:
          arrow: "Arrow:string"
          size: { name: CursorBaseSize, dataType: int }
          shadow: "Shadow:bool"
`
	sols, err := settings.Load(strings.NewReader(doc), settings.Deps{Logger: zerolog.Nop(), Handlers: factory})
	require.NoError(t, err)

	prefs := settings.NewPreferences()
	prefs.Set(settings.NewSettingID("com.microsoft.windows.cursor", "arrow"), `%SystemRoot%\cursors\arrow_rl.cur`)
	prefs.Set(settings.NewSettingID("com.microsoft.windows.cursor", "size"), 48)
	prefs.Set(settings.NewSettingID("com.microsoft.windows.cursor", "shadow"), true)
	require.True(t, sols.Apply(ctx, prefs))

	key := `HKEY_CURRENT_USER\Control Panel\Cursors`
	assert.Equal(t, uint64(48), reg.keys[key]["CursorBaseSize"])
	assert.Equal(t, ValueDWord, reg.kinds[key+`\CursorBaseSize`])
	assert.Equal(t, uint64(1), reg.keys[key]["Shadow"])
	assert.Equal(t, ValueString, reg.kinds[key+`\Arrow`])
	params.AssertNumberOfCalls(t, "Broadcast", 1)

	opens := reg.opens
	captured, err := sols.Capture(ctx, settings.CaptureOptions{})
	require.NoError(t, err)
	assert.Equal(t, opens+1, reg.opens, "the whole group is read through one opened key")
	assert.Equal(t, map[string]any{
		"arrow":  `%SystemRoot%\cursors\arrow_rl.cur`,
		"size":   48,
		"shadow": true,
	}, captured.Solutions["com.microsoft.windows.cursor"].Values)
}

func TestRegistryValue(t *testing.T) {
	tests := []struct {
		name     string
		kind     ValueKind
		in       any
		wantKind ValueKind
		want     any
		wantErr  bool
	}{
		{"auto int", ValueAuto, 5, ValueDWord, uint64(5), false},
		{"auto bool", ValueAuto, false, ValueDWord, uint64(0), false},
		{"auto string", ValueAuto, "x", ValueString, "x", false},
		{"auto strings", ValueAuto, []string{"a", "b"}, ValueMultiString, []string{"a", "b"}, false},
		{"dword from string", ValueDWord, "0x10", ValueDWord, uint64(16), false},
		{"dword truncates", ValueDWord, uint64(1) << 33, ValueDWord, uint64(0), false},
		{"qword", ValueQWord, 7, ValueQWord, uint64(7), false},
		{"string from int", ValueString, 12, ValueString, "12", false},
		{"expand string", ValueExpandString, "%TEMP%", ValueExpandString, "%TEMP%", false},
		{"binary from string", ValueBinary, "ab", ValueBinary, []byte("ab"), false},
		{"dword from garbage", ValueDWord, "abc", ValueDWord, nil, true},
		{"binary from int", ValueBinary, 1, ValueBinary, nil, true},
		{"nil", ValueAuto, nil, ValueAuto, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, got, err := registryValue(tt.kind, tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSPIFinalizer(t *testing.T) {
	params := &mockParameters{}
	params.On("Broadcast", ActionSetHighContrast).Return(nil).Once()
	params.On("Broadcast", ActionSetHighContrast).Return(errors.New("access denied")).Once()

	fin, err := NewSPIFinalizer(SystemParametersInfoConfig{Action: "SetHighContrast"}, params, zerolog.Nop())
	require.NoError(t, err)

	assert.True(t, fin.Finalize(context.Background()))
	assert.False(t, fin.Finalize(context.Background()))
	params.AssertExpectations(t)
}

func TestClientHandler(t *testing.T) {
	ctx := context.Background()
	store := &mockPreferences{}
	h := NewClientHandler(ClientConfig{Solution: "org.example.bar"}, store, zerolog.Nop())

	s := settings.NewSetting(settings.SettingOptions{Name: "size", DataType: settings.TypeInt})
	_, err := settings.NewGroup(settings.GroupOptions{Handler: h, Logger: zerolog.Nop()},
		[]settings.SettingEntry{{ID: "barSize", Setting: s}})
	require.NoError(t, err)

	store.On("GetPreference", mock.Anything, "org.example.bar", "size").Return(float64(3), nil).Once()
	store.On("SetPreference", mock.Anything, "org.example.bar", "size", 4).Return(nil).Once()
	store.On("SetPreference", mock.Anything, "org.example.bar", "size", 5).Return(errors.New("offline")).Once()

	assert.Equal(t, 3, s.GetValue(ctx), "JSON numbers are coerced to int")
	assert.True(t, s.SetValue(ctx, 4))
	assert.False(t, s.SetValue(ctx, 5))
	store.AssertExpectations(t)
}

func TestSystemHandler(t *testing.T) {
	ctx := context.Background()
	store := &mockSystem{}
	h := NewSystemHandler(SystemConfig{SettingID: "SystemSettings_Accessibility_Narrator_IsEnabled"}, store, zerolog.Nop())

	s := settings.NewSetting(settings.SettingOptions{DataType: settings.TypeBool})
	_, err := settings.NewGroup(settings.GroupOptions{Handler: h, Logger: zerolog.Nop()},
		[]settings.SettingEntry{{ID: "enabled", Setting: s}})
	require.NoError(t, err)

	store.On("GetSetting", mock.Anything, "SystemSettings_Accessibility_Narrator_IsEnabled").Return("true", nil).Once()
	store.On("GetSetting", mock.Anything, "SystemSettings_Accessibility_Narrator_IsEnabled").Return(nil, errors.New("gone")).Once()
	store.On("SetSetting", mock.Anything, "SystemSettings_Accessibility_Narrator_IsEnabled", false).Return(nil).Once()

	assert.Equal(t, true, s.GetValue(ctx))
	assert.Equal(t, false, s.GetValue(ctx))
	assert.True(t, s.SetValue(ctx, false))
	store.AssertExpectations(t)
}

func TestRegistryHandler_DecodedNumbersAreDWords(t *testing.T) {
	reg := newMemRegistry()
	factory := &Factory{Logger: zerolog.Nop(), Registry: reg}
	doc := `
solutions:
  com.microsoft.windows.cursor:
    settings:
      - type: com.microsoft.windows.registry
        key_name: HKEY_CURRENT_USER\Control Panel\Cursors
        settings:
          size: { name: CursorBaseSize, dataType: int }
          trails: { name: MouseTrails, dataType: int }
`
	sols, err := settings.Load(strings.NewReader(doc), settings.Deps{Logger: zerolog.Nop(), Handlers: factory})
	require.NoError(t, err)

	prefs := settings.NewPreferences()
	prefs.Set(settings.NewSettingID("com.microsoft.windows.cursor", "size"), float64(48))
	prefs.Set(settings.NewSettingID("com.microsoft.windows.cursor", "trails"), int64(3))
	require.True(t, sols.Apply(context.Background(), prefs))

	key := `HKEY_CURRENT_USER\Control Panel\Cursors`
	assert.Equal(t, ValueDWord, reg.kinds[key+`\CursorBaseSize`])
	assert.Equal(t, uint64(48), reg.keys[key]["CursorBaseSize"])
	assert.Equal(t, ValueDWord, reg.kinds[key+`\MouseTrails`])
	assert.Equal(t, uint64(3), reg.keys[key]["MouseTrails"])
}
