package logx

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Debug        bool   `split_words:"true" default:"false"`
	PrettyFormat bool   `split_words:"true" default:"false"`
	Level        string `split_words:"true"`
	Service      string `split_words:"true" default:"fredie"`
}

var DefaultConfig = &Config{
	Service: "fredie",
}

func safe(opts ...Config) *Config {
	if len(opts) == 0 {
		return DefaultConfig
	}
	return &opts[0]
}

// Init replaces the global logger. Level wins over Debug when it parses.
func Init(opts ...Config) {
	log.Logger = New(os.Stdout, opts...)
}

func New(w io.Writer, opts ...Config) zerolog.Logger {
	conf := safe(opts...)

	if conf.PrettyFormat {
		w = zerolog.ConsoleWriter{Out: w}
	}
	ctx := zerolog.New(w).With().Timestamp()
	if s := strings.TrimSpace(conf.Service); s != "" {
		ctx = ctx.Str("service", s)
	}
	logger := ctx.Caller().Stack().Logger()

	return logger.Level(level(conf))
}

func level(conf *Config) zerolog.Level {
	if raw := strings.TrimSpace(conf.Level); raw != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil && lvl != zerolog.NoLevel {
			return lvl
		}
	}
	if conf.Debug {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
