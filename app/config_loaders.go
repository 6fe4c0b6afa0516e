package huddle

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/putto11262002/huddle/core"
)

type ConfigLoader interface {
	Load() (*Config, error)
}

// EnvConfigLoader loads .env files into the process environment and then
// reads the configuration through LoadConfig. Variables already set in the
// environment win over the files. Missing files are skipped.
// HUDDLE_ALLOWED_ORIGINS is a comma-separated list of origins; durations such
// as HUDDLE_WS_PONG_WAIT use Go duration syntax.
type EnvConfigLoader struct {
	// Files defaults to .env in the working directory.
	Files []string
	// Paths are searched for config.yaml.
	Paths []string
}

func (l *EnvConfigLoader) Load() (*Config, error) {
	files := l.Files
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return LoadConfig(l.Paths...)
}

// DefaultConfigLoader returns the built-in defaults without reading any source.
type DefaultConfigLoader struct {
}

func (l *DefaultConfigLoader) Load() (*Config, error) {
	c := &Config{
		Port:           8080,
		Hostname:       "0.0.0.0",
		Mode:           DevMode,
		AllowedOrigins: []string{"*"},
	}
	c.Log.Level = "info"
	c.Log.Format = "text"
	c.History.RoomCapacity = core.DefaultHistoryCapacity
	c.History.DMCapacity = core.DefaultHistoryCapacity
	c.WS.SendBuffer = core.DefaultManagerConfig.SendBuffer
	c.WS.MaxMessageSize = core.DefaultManagerConfig.MaxMessageSize
	c.WS.WriteWait = core.DefaultManagerConfig.WriteWait
	c.WS.PongWait = core.DefaultManagerConfig.PongWait
	c.WS.DefaultRoom = "lobby"
	c.ShutdownTimeout = 10 * time.Second
	return c, nil
}
