package internal

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"
)

func TestConfigureLoggerUnknownFallsBack(t *testing.T) {
	defer SetLogLevel(LevelInfo)
	if err := ConfigureLogger("debug"); err != nil {
		t.Fatalf("debug rejected: %v", err)
	}
	if getLevel() != LevelDebug {
		t.Fatalf("level not applied")
	}
	if err := ConfigureLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if getLevel() != LevelInfo {
		t.Fatalf("unknown level should fall back to info")
	}
}

func TestMakeLoggerArgsSorted(t *testing.T) {
	args := makeLoggerArgs(Fields{FieldPort: 1, FieldAddr: "x", FieldCmd: 2})
	if len(args) != 3 {
		t.Fatalf("got %d args", len(args))
	}
	if args[0].Key != "addr" || args[1].Key != "cmd" || args[2].Key != "port" {
		t.Fatalf("args not sorted: %+v", args)
	}
}

func TestLimitedLoggerSuppresses(t *testing.T) {
	var buf bytes.Buffer
	SetLogOutput(&buf)
	defer SetLogOutput(os.Stdout)

	l := NewLimitedLogger(time.Hour, 2)
	emitted := 0
	for i := 0; i < 10; i++ {
		if l.Warn("bad packet", Fields{FieldAddr: "1.2.3.4"}) {
			emitted++
		}
	}
	if emitted != 2 {
		t.Fatalf("expected 2 lines through the limiter, got %d", emitted)
	}
	if l.suppressed != 8 {
		t.Fatalf("expected 8 suppressed, got %d", l.suppressed)
	}
	if !strings.Contains(buf.String(), "bad packet") {
		t.Fatalf("warn line not written: %q", buf.String())
	}
}
