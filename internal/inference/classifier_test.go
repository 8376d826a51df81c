package inference

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestVerdictFromLabel(t *testing.T) {
	tests := []struct {
		label   int
		want    Verdict
		wantErr bool
	}{
		{label: 0, want: VerdictAuthentic},
		{label: 1, want: VerdictSynthetic},
		{label: 2, wantErr: true},
		{label: -1, wantErr: true},
	}
	for _, tt := range tests {
		got, err := VerdictFromLabel(tt.label)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownLabel) {
				t.Fatalf("label %d: expected ErrUnknownLabel, got %v", tt.label, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("label %d: got %v, %v; want %v", tt.label, got, err, tt.want)
		}
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "classify.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecClassifierReadsLastLine(t *testing.T) {
	script := writeScript(t, `echo "loading model"
test -f "$1" || exit 3
echo 1`)
	c, err := NewExecClassifier(script)
	if err != nil {
		t.Fatalf("NewExecClassifier() error: %v", err)
	}
	media := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(media, []byte("RIFF"), 0o600); err != nil {
		t.Fatalf("write media: %v", err)
	}

	got, err := c.Classify(context.Background(), media)
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if got != VerdictSynthetic {
		t.Fatalf("expected synthetic, got %v", got)
	}
}

func TestExecClassifierErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"non-zero exit", `echo "model missing" >&2; exit 1`},
		{"garbage output", `echo maybe`},
		{"unknown label", `echo 7`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewExecClassifier(writeScript(t, tt.script))
			if err != nil {
				t.Fatalf("NewExecClassifier() error: %v", err)
			}
			if _, err := c.Classify(context.Background(), "/dev/null"); err == nil {
				t.Fatalf("expected Classify() error")
			}
		})
	}
}

func TestExecClassifierKilledAtDeadline(t *testing.T) {
	c, err := NewExecClassifier(writeScript(t, "exec sleep 30"))
	if err != nil {
		t.Fatalf("NewExecClassifier() error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.Classify(ctx, "/dev/null")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("expected process to be killed promptly, took %v", elapsed)
	}
}

func TestNewExecClassifierRequiresCommand(t *testing.T) {
	if _, err := NewExecClassifier("   "); err == nil {
		t.Fatalf("expected empty command to be rejected")
	}
}

func TestHTTPClassifier(t *testing.T) {
	bodies := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- string(b)
		switch string(b) {
		case "fake":
			_, _ = w.Write([]byte(`{"label":1}`))
		case "real":
			_, _ = w.Write([]byte(`{"label":0}`))
		case "nolabel":
			_, _ = w.Write([]byte(`{}`))
		default:
			http.Error(w, "model crashed", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c, err := NewHTTPClassifier(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPClassifier() error: %v", err)
	}
	dir := t.TempDir()

	tests := []struct {
		payload string
		want    Verdict
		wantErr bool
	}{
		{payload: "fake", want: VerdictSynthetic},
		{payload: "real", want: VerdictAuthentic},
		{payload: "nolabel", wantErr: true},
		{payload: "boom", wantErr: true},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, tt.payload+".wav")
		if err := os.WriteFile(path, []byte(tt.payload), 0o600); err != nil {
			t.Fatalf("write media: %v", err)
		}
		got, err := c.Classify(context.Background(), path)
		if gotBody := <-bodies; gotBody != tt.payload {
			t.Fatalf("expected server to receive %q, got %q", tt.payload, gotBody)
		}
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tt.payload)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("%s: got %v, %v; want %v", tt.payload, got, err, tt.want)
		}
	}
}
