// Package sound provides the audio cue played when new notifications arrive.
package sound

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Cue plays one short notification sound.
type Cue interface {
	Play(ctx context.Context) error
}

// None is the silent cue.
type None struct{}

func (None) Play(context.Context) error { return nil }

// Bell writes the terminal BEL character.
type Bell struct {
	mu sync.Mutex
	W  io.Writer
}

func (b *Bell) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	w := b.W
	if w == nil {
		w = os.Stderr
	}
	_, err := w.Write([]byte{'\a'})
	return err
}

// Command runs an external player, e.g. "paplay /usr/share/sounds/chime.oga".
type Command struct {
	Argv    []string
	Timeout time.Duration
}

// ParseCommand splits a whitespace-separated command line.
func ParseCommand(line string, timeout time.Duration) (*Command, error) {
	argv := strings.Fields(line)
	if len(argv) == 0 {
		return nil, errors.New("sound: empty command")
	}
	return &Command{Argv: argv, Timeout: timeout}, nil
}

func (c *Command) Play(ctx context.Context) error {
	if len(c.Argv) == 0 {
		return errors.New("sound: empty command")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := exec.CommandContext(cctx, c.Argv[0], c.Argv[1:]...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("sound: %s: %w: %s", c.Argv[0], err, msg)
		}
		return fmt.Errorf("sound: %s: %w", c.Argv[0], err)
	}
	return nil
}

// New builds the cue named kind: "bell", "command" or "none".
func New(kind, command string) (Cue, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "bell":
		return &Bell{}, nil
	case "none", "off":
		return None{}, nil
	case "command", "cmd":
		return ParseCommand(command, 0)
	default:
		return nil, fmt.Errorf("sound: unknown cue %q", kind)
	}
}

// Switchable lets the cue be swapped at runtime (config reload).
type Switchable struct {
	mu  sync.RWMutex
	cue Cue
}

func NewSwitchable(c Cue) *Switchable {
	if c == nil {
		c = None{}
	}
	return &Switchable{cue: c}
}

func (s *Switchable) Set(c Cue) {
	if c == nil {
		c = None{}
	}
	s.mu.Lock()
	s.cue = c
	s.mu.Unlock()
}

func (s *Switchable) Play(ctx context.Context) error {
	s.mu.RLock()
	c := s.cue
	s.mu.RUnlock()
	return c.Play(ctx)
}
