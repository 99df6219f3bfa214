package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	DefaultTokenEnv = "NOTISYNC_TOKEN"
	DefaultAPIAddr  = "127.0.0.1:7787"
)

// Resolved holds parsed, defaulted values ready for wiring.
type Resolved struct {
	UserID string

	FeedBaseURL  string
	FeedToken    string
	FeedTimeout  time.Duration
	FeedPageSize int
	FeedMaxPages int

	PushTransport        string
	PushURL              string
	PushReconnectMin     time.Duration
	PushReconnectMax     time.Duration
	PushHandshakeTimeout time.Duration
	PushEvents           []string

	PollFast         time.Duration
	PollSlow         time.Duration
	PollTriggerRate  float64
	PollTriggerBurst int

	StorageBusyTimeout time.Duration

	SoundCue     string
	SoundCommand string

	Sources []ResolvedSource

	Consumers int

	APIEnabled bool
	APIAddr    string
	APIPprof   bool
}

type ResolvedSource struct {
	Kind   string
	Path   string
	URL    string
	MaxAge time.Duration
}

// Resolve validates cfg and applies defaults. The feed token falls back to
// the environment (after .env loading).
func (c *Config) Resolve() (*Resolved, error) {
	if c == nil {
		return nil, errors.New("config is nil")
	}
	r := &Resolved{UserID: strings.TrimSpace(c.UserID)}
	if r.UserID == "" {
		return nil, errors.New("user_id: required")
	}

	var err error

	// Feed
	r.FeedBaseURL = strings.TrimRight(strings.TrimSpace(c.Feed.BaseURL), "/")
	if r.FeedBaseURL == "" {
		return nil, errors.New("feed.base_url: required")
	}
	if u, perr := url.Parse(r.FeedBaseURL); perr != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("feed.base_url: invalid url %q", c.Feed.BaseURL)
	}
	r.FeedToken = strings.TrimSpace(c.Feed.Token)
	if r.FeedToken == "" {
		env := strings.TrimSpace(c.Feed.TokenEnv)
		if env == "" {
			env = DefaultTokenEnv
		}
		r.FeedToken = strings.TrimSpace(os.Getenv(env))
	}
	if r.FeedTimeout, err = ParseDurationOrDefault("feed.timeout", c.Feed.Timeout, 10*time.Second); err != nil {
		return nil, err
	}
	r.FeedPageSize = positiveOr(c.Feed.PageSize, 50)
	r.FeedMaxPages = positiveOr(c.Feed.MaxPages, 4)
	if c.Feed.PageSize < 0 || c.Feed.MaxPages < 0 {
		return nil, errors.New("feed.page_size/max_pages: must be >= 0")
	}

	// Push
	r.PushTransport = strings.ToLower(strings.TrimSpace(c.Push.Transport))
	switch r.PushTransport {
	case "", "websocket", "ws":
		r.PushTransport = "websocket"
	case "sse", "none":
	default:
		return nil, fmt.Errorf("push.transport: unknown transport %q", c.Push.Transport)
	}
	r.PushURL = strings.TrimSpace(c.Push.URL)
	if r.PushURL == "" && r.PushTransport != "none" {
		r.PushURL = defaultPushURL(r.FeedBaseURL, r.PushTransport)
	}
	if r.PushReconnectMin, err = ParseDurationOrDefault("push.reconnect_min", c.Push.ReconnectMin, time.Second); err != nil {
		return nil, err
	}
	if r.PushReconnectMax, err = ParseDurationOrDefault("push.reconnect_max", c.Push.ReconnectMax, 30*time.Second); err != nil {
		return nil, err
	}
	if r.PushReconnectMax < r.PushReconnectMin {
		return nil, errors.New("push.reconnect_max: must be >= reconnect_min")
	}
	if r.PushHandshakeTimeout, err = ParseDurationOrDefault("push.handshake_timeout", c.Push.HandshakeTimeout, 10*time.Second); err != nil {
		return nil, err
	}
	if r.PushEvents, err = resolveEvents(c.Push.Events); err != nil {
		return nil, err
	}

	// Poll
	if r.PollFast, r.PollSlow, err = c.Poll.Intervals(); err != nil {
		return nil, err
	}
	if c.Poll.TriggerRate < 0 || c.Poll.TriggerBurst < 0 {
		return nil, errors.New("poll.trigger_rate/trigger_burst: must be >= 0")
	}
	r.PollTriggerRate = c.Poll.TriggerRate
	if r.PollTriggerRate == 0 {
		r.PollTriggerRate = 1
	}
	r.PollTriggerBurst = positiveOr(c.Poll.TriggerBurst, 2)

	// Storage
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory", "none":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return nil, fmt.Errorf("storage.path: required for driver %q", c.Storage.Driver)
		}
	case "redis":
		if strings.TrimSpace(c.Storage.Addr) == "" {
			return nil, errors.New("storage.addr: required for driver \"redis\"")
		}
	default:
		return nil, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if r.StorageBusyTimeout, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return nil, err
	}

	// Sound
	r.SoundCue = strings.ToLower(strings.TrimSpace(c.Sound.Cue))
	if r.SoundCue == "" {
		r.SoundCue = "bell"
	}
	r.SoundCommand = strings.TrimSpace(c.Sound.Command)
	switch r.SoundCue {
	case "bell", "none":
	case "command":
		if r.SoundCommand == "" {
			return nil, errors.New("sound.command: required for cue \"command\"")
		}
	default:
		return nil, fmt.Errorf("sound.cue: unknown cue %q", c.Sound.Cue)
	}

	// Sources
	for i, s := range c.Sources {
		path := fmt.Sprintf("sources[%d]", i)
		rs := ResolvedSource{Kind: strings.ToLower(strings.TrimSpace(s.Kind)), Path: strings.TrimSpace(s.Path), URL: strings.TrimSpace(s.URL)}
		switch rs.Kind {
		case "file":
			if rs.Path == "" {
				return nil, fmt.Errorf("%s.path: required", path)
			}
		case "rss":
			if rs.URL == "" {
				return nil, fmt.Errorf("%s.url: required", path)
			}
		default:
			return nil, fmt.Errorf("%s.kind: unknown kind %q", path, s.Kind)
		}
		if rs.MaxAge, err = ParseDurationField(path+".max_age", s.MaxAge); err != nil {
			return nil, err
		}
		r.Sources = append(r.Sources, rs)
	}

	if c.Consumers < 0 {
		return nil, errors.New("consumers: must be >= 0")
	}
	r.Consumers = positiveOr(c.Consumers, 1)

	r.APIEnabled = c.API.Enabled
	r.APIPprof = c.API.Pprof
	r.APIAddr = strings.TrimSpace(c.API.Addr)
	if r.APIAddr == "" {
		r.APIAddr = DefaultAPIAddr
	}
	return r, nil
}

// Intervals returns the parsed fast/slow poll intervals with defaults.
func (p PollConfig) Intervals() (fast, slow time.Duration, err error) {
	if fast, err = ParseDurationOrDefault("poll.fast_interval", p.FastInterval, 15*time.Second); err != nil {
		return 0, 0, err
	}
	if slow, err = ParseDurationOrDefault("poll.slow_interval", p.SlowInterval, 90*time.Second); err != nil {
		return 0, 0, err
	}
	if slow < fast {
		return 0, 0, errors.New("poll.slow_interval: must be >= fast_interval")
	}
	return fast, slow, nil
}

// resolveEvents trims and dedups the event list. connected and disconnected
// are emitted by the client itself and cannot be configured.
func resolveEvents(list []string) ([]string, error) {
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for i, raw := range list {
		name := strings.TrimSpace(raw)
		switch name {
		case "":
			return nil, fmt.Errorf("push.events[%d]: empty event name", i)
		case "connected", "disconnected":
			return nil, fmt.Errorf("push.events[%d]: %q is reserved", i, name)
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out, nil
}

func defaultPushURL(base, transport string) string {
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	if transport == "websocket" {
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		default:
			u.Scheme = "ws"
		}
		u.Path = strings.TrimRight(u.Path, "/") + "/ws"
		return u.String()
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/notifications/stream"
	return u.String()
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
