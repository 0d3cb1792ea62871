package namegen

import (
	"strings"
	"testing"

	"github.com/Hydraverse/db/db"
)

func TestNewShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		name := New()
		words := strings.Fields(name)
		if len(words) != 3 {
			t.Fatalf("New() = %q, want three words", name)
		}
		if err := db.ValidateSubName(name); err != nil {
			t.Fatalf("New() = %q fails name validation: %v", name, err)
		}
	}
}

func TestFallbackShape(t *testing.T) {
	a, b := Fallback(), Fallback()
	if a == b {
		t.Errorf("two fallback draws collided: %q", a)
	}
	if !strings.HasPrefix(a, "Hyve ") {
		t.Errorf("Fallback() = %q", a)
	}
	if err := db.ValidateSubName(a); err != nil {
		t.Errorf("Fallback() = %q fails name validation: %v", a, err)
	}
}
