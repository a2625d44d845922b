package common

import (
	"errors"
	"fmt"
	"strings"
)

const pausePrefix = "module/paused/"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a module is currently paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects guarded calls for a paused module. The returned error names
// the module and wraps ErrModulePaused.
func Guard(p PauseView, module string) error {
	module = strings.ToLower(strings.TrimSpace(module))
	if p == nil || module == "" || !p.IsPaused(module) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrModulePaused, module)
}

type pauseState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Pauses stores per-module pause flags in state.
type Pauses struct {
	st pauseState
}

// NewPauses wraps st.
func NewPauses(st pauseState) Pauses {
	return Pauses{st: st}
}

func pauseKey(module string) []byte {
	return []byte(pausePrefix + strings.ToLower(strings.TrimSpace(module)))
}

// IsPaused implements PauseView. Read failures are treated as paused so a
// broken store never lets a guarded operation through.
func (p Pauses) IsPaused(module string) bool {
	if p.st == nil {
		return false
	}
	var paused bool
	ok, err := p.st.KVGet(pauseKey(module), &paused)
	if err != nil {
		return true
	}
	return ok && paused
}

// SetPaused updates the flag for module.
func (p Pauses) SetPaused(module string, paused bool) error {
	if p.st == nil {
		return fmt.Errorf("pauses: state not configured")
	}
	if strings.TrimSpace(module) == "" {
		return fmt.Errorf("pauses: module required")
	}
	return p.st.KVPut(pauseKey(module), paused)
}
