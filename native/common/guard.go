package common

import (
	"errors"
	"fmt"
	"strings"
)

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a pause switch is engaged. Switch names are either
// a bare module name ("comptroller") or a scoped action produced by Switch
// ("comptroller/borrow/<market>").
type PauseView interface {
	IsPaused(module string) bool
}

// Switch composes a scoped pause switch name from its parts, skipping blanks.
func Switch(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return strings.Join(cleaned, "/")
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}

// PauseSet is a static PauseView used by hosts that manage switches outside
// the module state.
type PauseSet map[string]bool

// IsPaused implements PauseView.
func (s PauseSet) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	return s[module]
}
