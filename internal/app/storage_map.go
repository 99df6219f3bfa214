package app

import (
	"strings"
	"time"

	"notisync/internal/config"
	"notisync/internal/storage"
)

// mapStorageConfig turns the storage section into a driver config. Resolve
// has already validated the driver and its required fields.
func mapStorageConfig(cfg *config.Config, res *config.Resolved) storage.Config {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "none":
		driver = "memory"
	case "sqlite3":
		driver = "sqlite"
	}
	busy := res.StorageBusyTimeout
	if driver == "sqlite" && busy <= 0 {
		busy = time.Second
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		Addr:        strings.TrimSpace(sc.Addr),
		Password:    sc.Password,
		DB:          sc.DB,
	}
}
