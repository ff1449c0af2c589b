package common

import "errors"

// ErrModulePaused is returned when a mutating call hits a paused module.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause switches controlled by governance.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused. A nil view or empty
// module name is treated as unpaused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
