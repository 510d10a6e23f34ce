package settings

import (
	"fmt"
	"strings"
)

// SettingID is a compound "solution/setting" identifier.
type SettingID struct {
	Solution string
	Setting  string
}

// Well-known settings.
var (
	ColorFiltersEnabled    = SettingID{"com.microsoft.windows.colorFilters", "enabled"}
	ColorFiltersFilterType = SettingID{"com.microsoft.windows.colorFilters", "filterType"}
	HighContrastEnabled    = SettingID{"com.microsoft.windows.highContrast", "enabled"}
	NarratorEnabled        = SettingID{"com.microsoft.windows.narrator", "enabled"}
	LightThemeApps         = SettingID{"com.microsoft.windows.lightTheme", "apps"}
	LightThemeSystem       = SettingID{"com.microsoft.windows.lightTheme", "system"}
)

// NewSettingID creates a compound id.
func NewSettingID(solutionID, settingID string) SettingID {
	return SettingID{Solution: solutionID, Setting: settingID}
}

// ParseSettingID parses "solution/setting". Solution ids may contain dots
// but not slashes; the split happens at the last slash.
func ParseSettingID(s string) (SettingID, error) {
	i := strings.LastIndex(s, "/")
	if i <= 0 || i == len(s)-1 {
		return SettingID{}, fmt.Errorf("%w: %q", ErrInvalidSettingID, s)
	}
	return SettingID{Solution: s[:i], Setting: s[i+1:]}, nil
}

// String returns the "solution/setting" form.
func (id SettingID) String() string {
	return id.Solution + "/" + id.Setting
}
