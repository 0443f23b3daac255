package taskctx

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewAssignsUniqueIDAndPrefixesLog(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.Out = &buf
	base.Level = logrus.InfoLevel
	base.Formatter = &logrus.TextFormatter{DisableTimestamp: true, DisableColors: true}

	c1 := New("fwdproxy", base)
	c2 := New("fwdproxy", base)

	if c1.ID == c2.ID {
		t.Fatalf("expected distinct task IDs, both were %q", c1.ID)
	}
	if c1.Mode != "fwdproxy" {
		t.Fatalf("Mode = %q, want fwdproxy", c1.Mode)
	}

	c1.Logger.Info("hello")
	out := buf.String()
	if !strings.Contains(out, "["+"fwdproxy"+" "+c1.ID+"]") {
		t.Fatalf("log line missing mode/id prefix: %q", out)
	}
	if !strings.Contains(out, "hello") {
		t.Fatalf("log line missing message: %q", out)
	}
}

func TestDebugHexSkipsEncodingAboveDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.Out = &buf
	base.Level = logrus.InfoLevel
	base.Formatter = &logrus.TextFormatter{DisableTimestamp: true, DisableColors: true}

	c := New("tlsproxy", base)
	c.DebugHex("read", []byte{0xDE, 0xAD, 0xBE, 0xEF})

	if buf.Len() != 0 {
		t.Fatalf("expected no output at InfoLevel, got %q", buf.String())
	}
}

func TestDebugHexEmitsAtDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.Out = &buf
	base.Level = logrus.DebugLevel
	base.Formatter = &logrus.TextFormatter{DisableTimestamp: true, DisableColors: true}

	c := New("tlsproxy", base)
	c.DebugHex("read", []byte{0xDE, 0xAD, 0xBE, 0xEF})

	if !strings.Contains(buf.String(), "deadbeef") {
		t.Fatalf("expected hex dump in output, got %q", buf.String())
	}
}

func TestElapsedIsNonNegative(t *testing.T) {
	c := New("tproxy", logrus.New())
	if c.Elapsed() < 0 {
		t.Fatalf("Elapsed() = %v, want >= 0", c.Elapsed())
	}
}
