package common

import (
	"errors"
	"testing"
)

func TestGuard(t *testing.T) {
	view := PauseSet{Switch("comptroller", "mint", "m1"): true}

	if err := Guard(nil, "anything"); err != nil {
		t.Fatalf("nil view must not guard: %v", err)
	}
	if err := Guard(view, ""); err != nil {
		t.Fatalf("empty module must not guard: %v", err)
	}
	if err := Guard(view, "comptroller/mint/m2"); err != nil {
		t.Fatalf("unexpected pause: %v", err)
	}
	err := Guard(view, "comptroller/mint/m1")
	if !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}

func TestSwitchSkipsBlankParts(t *testing.T) {
	if got := Switch(" comptroller ", "", "seize"); got != "comptroller/seize" {
		t.Fatalf("unexpected switch %q", got)
	}
}
