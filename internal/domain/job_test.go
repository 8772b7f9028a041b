package domain_test

import (
	"testing"

	"github.com/SirClappington/slotwatch/internal/domain"
)

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"done", "error"} {
		if _, ok := domain.ParseStatus(s); !ok {
			t.Errorf("ParseStatus(%q) rejected a terminal status", s)
		}
	}
	for _, s := range []string{"", "queued", "in_progress", "DONE", "failed"} {
		if _, ok := domain.ParseStatus(s); ok {
			t.Errorf("ParseStatus(%q) should be rejected", s)
		}
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to domain.Status
		want     bool
	}{
		{domain.Queued, domain.InProgress, true},
		{domain.InProgress, domain.Done, true},
		{domain.InProgress, domain.Errored, true},
		{domain.InProgress, domain.Queued, true},
		{domain.Queued, domain.Done, false},
		{domain.Done, domain.Queued, false},
		{domain.Done, domain.Errored, false},
		{domain.Errored, domain.InProgress, false},
	}
	for _, c := range cases {
		if got := domain.CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	if domain.Queued.Terminal() || domain.InProgress.Terminal() {
		t.Error("queued/in_progress must not be terminal")
	}
	if !domain.Done.Terminal() || !domain.Errored.Terminal() {
		t.Error("done/error must be terminal")
	}
}
