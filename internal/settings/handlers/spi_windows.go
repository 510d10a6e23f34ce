//go:build windows

package handlers

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

const (
	spifUpdateIniFile = 0x01
	spifSendChange    = 0x02
)

var procSystemParametersInfo = windows.NewLazySystemDLL("user32.dll").NewProc("SystemParametersInfoW")

type systemParameters struct{}

// NewSystemParameters returns the system parameters broadcaster of this
// platform.
func NewSystemParameters() SystemParameters { return systemParameters{} }

// Broadcast re-applies the current value of the action and notifies the
// running applications.
func (systemParameters) Broadcast(action Action) error {
	if err := procSystemParametersInfo.Find(); err != nil {
		return errors.Wrap(err, "SystemParametersInfoW")
	}
	r, _, err := procSystemParametersInfo.Call(uintptr(action), 0, 0, spifUpdateIniFile|spifSendChange)
	if r == 0 {
		return errors.Wrapf(err, "SystemParametersInfoW(%s)", action)
	}
	return nil
}
