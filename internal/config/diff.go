package config

import (
	"reflect"
	"sort"
	"strings"

	logx "notisync/pkg/logx"
)

// Sections whose changes are applied to a running process. Everything else
// needs a restart.
var hotSections = map[string]bool{
	"logging": true,
	"poll":    true,
	"sound":   true,
}

// Change describes a config transition.
type Change struct {
	// Sections lists the changed top-level sections, sorted.
	Sections []string
	// Restart lists the changed sections that are only read at startup.
	Restart []string
	// Fields are safe structured attrs for logging. Tokens and passwords are
	// reported only as "_set" booleans.
	Fields []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.UserID) != strings.TrimSpace(newCfg.UserID) {
		changed = append(changed, "user_id")
		attrs = append(attrs, logx.String("user_id", strings.TrimSpace(newCfg.UserID)))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oF, nF := oldCfg.Feed, newCfg.Feed
	if oF != nF {
		changed = append(changed, "feed")
		attrs = append(attrs,
			logx.String("feed.base_url", strings.TrimSpace(nF.BaseURL)),
			logx.Bool("feed.token_set", strings.TrimSpace(nF.Token) != ""),
			logx.String("feed.token_env", strings.TrimSpace(nF.TokenEnv)),
			logx.Int("feed.page_size", nF.PageSize),
		)
	}

	if !reflect.DeepEqual(oldCfg.Push, newCfg.Push) {
		changed = append(changed, "push")
		attrs = append(attrs,
			logx.String("push.transport", strings.TrimSpace(newCfg.Push.Transport)),
			logx.Bool("push.url_set", strings.TrimSpace(newCfg.Push.URL) != ""),
			logx.Strings("push.events", newCfg.Push.Events),
		)
	}

	if oldCfg.Poll != newCfg.Poll {
		changed = append(changed, "poll")
		attrs = append(attrs,
			logx.String("poll.fast_interval", strings.TrimSpace(newCfg.Poll.FastInterval)),
			logx.String("poll.slow_interval", strings.TrimSpace(newCfg.Poll.SlowInterval)),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.password_set", newCfg.Storage.Password != ""),
		)
	}

	if oldCfg.Sound != newCfg.Sound {
		changed = append(changed, "sound")
		attrs = append(attrs, logx.String("sound.cue", strings.TrimSpace(newCfg.Sound.Cue)))
	}

	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		changed = append(changed, "sources")
		attrs = append(attrs, logx.Int("sources.count", len(newCfg.Sources)))
	}

	if oldCfg.Consumers != newCfg.Consumers {
		changed = append(changed, "consumers")
		attrs = append(attrs, logx.Int("consumers", newCfg.Consumers))
	}

	if oldCfg.API != newCfg.API {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", newCfg.API.Enabled),
			logx.String("api.addr", strings.TrimSpace(newCfg.API.Addr)),
			logx.Bool("api.pprof", newCfg.API.Pprof),
		)
	}

	sort.Strings(changed)
	var restart []string
	for _, s := range changed {
		if !hotSections[s] {
			restart = append(restart, s)
		}
	}
	return Change{Sections: changed, Restart: restart, Fields: attrs}
}

// LogxConfig maps the logging section onto the logging service config.
func (l LoggingConfig) LogxConfig() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}
