package testutil

import (
	"io"
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger that prints only when tests run with -v.
func TestLogger(t testing.TB) *log.Logger {
	t.Helper()

	var w io.Writer = io.Discard
	if testing.Verbose() {
		w = os.Stdout
	}
	return log.New(w, "[lan-chat-test] ", log.LstdFlags|log.Lmsgprefix)
}
