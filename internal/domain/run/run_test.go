package run

import (
	"errors"
	"testing"

	"github.com/argussec/argus/internal/domain"
)

func TestParseTerminalStatus(t *testing.T) {
	cases := []struct {
		in   string
		want Status
	}{
		{"completed", StatusCompleted},
		{"failed", StatusFailed},
		{"cancelled", StatusFailed},
	}
	for _, tc := range cases {
		got, err := ParseTerminalStatus(tc.in)
		if err != nil {
			t.Fatalf("ParseTerminalStatus(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseTerminalStatus(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseTerminalStatusRejectsInvalid(t *testing.T) {
	for _, in := range []string{"running", "", "done", "COMPLETED"} {
		_, err := ParseTerminalStatus(in)
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("ParseTerminalStatus(%q): got %v, want validation error", in, err)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusRunning.Terminal() {
		t.Fatal("running must not be terminal")
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Fatal("completed and failed must be terminal")
	}
}
