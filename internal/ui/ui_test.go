package ui

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mschirtzinger/studysync/internal/state"
)

func TestParseDate(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"2026-03-05", "2026-03-05", false},
		{"  2026-12-31 ", "2026-12-31", false},
		{"tomorrow", "2026-03-02", false},
		{"today", "2026-03-01", false},
		{"", "", true},
		{"whenever", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDate(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDate(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRender_NoColor(t *testing.T) {
	DisableColor()
	for _, render := range []func(string) string{RenderAccent, RenderPass, RenderWarn, RenderFail, RenderMuted, RenderBold} {
		if got := render("plain"); got != "plain" {
			t.Errorf("render = %q, want %q", got, "plain")
		}
	}
}

func TestConfirmer(t *testing.T) {
	yes := &Confirmer{AssumeYes: true}
	if ok, err := yes.Confirm(context.Background(), "Delete?"); err != nil || !ok {
		t.Errorf("AssumeYes Confirm() = %v, %v; want true", ok, err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe() failed: %v", err)
	}
	defer r.Close()
	defer w.Close()
	piped := &Confirmer{In: r}
	if ok, err := piped.Confirm(context.Background(), "Delete?"); err != nil || ok {
		t.Errorf("non-interactive Confirm() = %v, %v; want false", ok, err)
	}
}

func TestReadPassword_FromPipe(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe() failed: %v", err)
	}
	defer r.Close()
	if _, err := w.WriteString("hunter22\n"); err != nil {
		t.Fatalf("WriteString() failed: %v", err)
	}
	w.Close()

	var out bytes.Buffer
	got, err := ReadPassword(r, &out, "Password: ")
	if err != nil {
		t.Fatalf("ReadPassword() failed: %v", err)
	}
	if got != "hunter22" {
		t.Errorf("ReadPassword() = %q, want %q", got, "hunter22")
	}
	if out.String() != "Password: " {
		t.Errorf("prompt = %q", out.String())
	}
}

func TestNotifier(t *testing.T) {
	DisableColor()
	var out bytes.Buffer
	n := &Notifier{Out: &out}
	n.Notify(state.LevelError, "Sync failed")
	n.Notify(state.LevelSuccess, "Saved")
	if !strings.Contains(out.String(), "✗ Sync failed") || !strings.Contains(out.String(), "✓ Saved") {
		t.Errorf("output = %q", out.String())
	}
}
