package config

// Config is the on-disk configuration (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "15s", "2m").
type Config struct {
	// UserID selects whose notifications are synchronized.
	UserID string `json:"user_id"`

	Logging LoggingConfig `json:"logging"`
	Feed    FeedConfig    `json:"feed"`
	Push    PushConfig    `json:"push"`
	Poll    PollConfig    `json:"poll"`
	Storage StorageConfig `json:"storage"`
	Sound   SoundConfig   `json:"sound"`
	API     APIConfig     `json:"api"`

	// Sources are extra, non-authoritative providers merged with the feed.
	Sources []SourceConfig `json:"sources,omitempty"`

	// Consumers is the number of inboxes mounted on the shared connection.
	// Default: 1.
	Consumers int `json:"consumers,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// FeedConfig points at the authoritative notification server.
//
// Token is a bearer token (do not log). When empty, the environment variable
// named by TokenEnv (default NOTISYNC_TOKEN) is used.
type FeedConfig struct {
	BaseURL  string `json:"base_url"`
	Token    string `json:"token,omitempty"`
	TokenEnv string `json:"token_env,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
	MaxPages int    `json:"max_pages,omitempty"`
}

// PushConfig controls the real-time channel.
//
// Transport is one of "websocket", "sse" or "none". URL defaults to the
// websocket form of feed.base_url + "/ws".
type PushConfig struct {
	Transport        string `json:"transport"`
	URL              string `json:"url,omitempty"`
	ReconnectMin     string `json:"reconnect_min,omitempty"`
	ReconnectMax     string `json:"reconnect_max,omitempty"`
	HandshakeTimeout string `json:"handshake_timeout,omitempty"`
	// Events are the pushed event names that trigger a refetch. Empty means
	// notification and status_change.
	Events []string `json:"events,omitempty"`
}

// PollConfig controls the adaptive poll scheduler.
//
// Defaults: fast_interval 15s, slow_interval 90s, trigger_rate 1, trigger_burst 2.
type PollConfig struct {
	FastInterval string  `json:"fast_interval,omitempty"`
	SlowInterval string  `json:"slow_interval,omitempty"`
	TriggerRate  float64 `json:"trigger_rate,omitempty"`
	TriggerBurst int     `json:"trigger_burst,omitempty"`
}

// StorageConfig controls preference persistence.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./notisync_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite

	// Redis.
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	DB       int    `json:"db,omitempty"`
}

// SoundConfig selects the cue: "bell", "command" or "none".
type SoundConfig struct {
	Cue     string `json:"cue"`
	Command string `json:"command,omitempty"`
}

// SourceConfig is one extra provider: kind "file" reads Path, kind "rss"
// reads an announcement feed at URL.
type SourceConfig struct {
	Kind   string `json:"kind"`
	Path   string `json:"path,omitempty"`
	URL    string `json:"url,omitempty"`
	MaxAge string `json:"max_age,omitempty"`
}

// APIConfig controls the local HTTP API. Prefer a loopback address.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:7787"

	// Pprof mounts net/http/pprof under /debug/pprof on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}
