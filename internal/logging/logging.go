package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "CMSANA_LOG_LEVEL"
	EnvLogNoColor = "CMSANA_LOG_NOCOLOR"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

type Config struct {
	Level   zerolog.Level
	NoColor bool
	Out     io.Writer
}

// Init installs the global logger for the given tool and returns it.
func Init(app string, profile Profile, debug bool) zerolog.Logger {
	cfg := defaultConfig(profile)
	applyEnvOverrides(&cfg)
	if debug && cfg.Level > zerolog.DebugLevel {
		cfg.Level = zerolog.DebugLevel
	}
	return initWith(app, cfg)
}

func initWith(app string, cfg Config) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        cfg.Out,
		TimeFormat: time.RFC3339,
		NoColor:    cfg.NoColor,
	}
	logger := zerolog.New(output).Level(cfg.Level).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

func defaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		out := io.Discard
		if os.Getenv(EnvLogLevel) != "" {
			out = os.Stderr
		}
		return Config{Level: zerolog.DebugLevel, NoColor: true, Out: out}
	default:
		return Config{Level: zerolog.InfoLevel, Out: os.Stderr}
	}
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
}

func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
