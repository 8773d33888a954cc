package cli

import (
	"bytes"
	"context"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestHandleInterrupts(t *testing.T) {
	t.Run("signal cancels the context and prints the hint", func(t *testing.T) {
		var buf bytes.Buffer
		h := NewInterruptHandler(&buf)
		ctx := h.HandleInterrupts(context.Background(), "tally classify")

		if err := syscall.Kill(syscall.Getpid(), syscall.SIGINT); err != nil {
			t.Fatalf("failed to send signal: %v", err)
		}

		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("context not cancelled after interrupt")
		}

		if !h.WasInterrupted() {
			t.Error("WasInterrupted() = false after interrupt")
		}
		if !strings.Contains(buf.String(), "tally classify") {
			t.Errorf("interrupt message missing resume hint: %q", buf.String())
		}
	})

	t.Run("no signal leaves the context alone", func(t *testing.T) {
		h := NewInterruptHandler(nil)
		ctx := h.HandleInterrupts(context.Background(), "")

		select {
		case <-ctx.Done():
			t.Fatal("context cancelled without an interrupt")
		default:
		}
		if h.WasInterrupted() {
			t.Error("WasInterrupted() = true without an interrupt")
		}
	})
}
