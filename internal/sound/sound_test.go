package sound

import (
	"bytes"
	"context"
	"os/exec"
	"testing"
	"time"
)

func TestBellWritesBEL(t *testing.T) {
	var buf bytes.Buffer
	if err := (&Bell{W: &buf}).Play(context.Background()); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if buf.String() != "\a" {
		t.Fatalf("wrote %q", buf.String())
	}
}

func TestNewKinds(t *testing.T) {
	if _, err := New("bell", ""); err != nil {
		t.Fatal(err)
	}
	if c, _ := New("none", ""); c.Play(context.Background()) != nil {
		t.Fatal("none must be silent")
	}
	if _, err := New("command", ""); err == nil {
		t.Fatal("command without argv should fail")
	}
	if _, err := New("trumpet", ""); err == nil {
		t.Fatal("unknown kind should fail")
	}
}

func TestCommandRunsAndReportsFailure(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}
	ok, _ := ParseCommand("true", time.Second)
	if err := ok.Play(context.Background()); err != nil {
		t.Fatalf("Play: %v", err)
	}
	bad, _ := ParseCommand("false", time.Second)
	if err := bad.Play(context.Background()); err == nil {
		t.Fatal("expected failure from false")
	}
}

func TestSwitchable(t *testing.T) {
	var a, b bytes.Buffer
	s := NewSwitchable(&Bell{W: &a})
	_ = s.Play(context.Background())
	s.Set(&Bell{W: &b})
	_ = s.Play(context.Background())
	s.Set(nil)
	_ = s.Play(context.Background())
	if a.Len() != 1 || b.Len() != 1 {
		t.Fatalf("a=%d b=%d", a.Len(), b.Len())
	}
}
