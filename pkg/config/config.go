package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// ErrNotConfigured is returned by Optional when no variable of the prefix is set.
var ErrNotConfigured = errors.New("config: not configured")

var (
	envFilePath string
	parseOnce   sync.Once

	loadOnce sync.Once
	loadErr  error
)

func MustNew[T any](prefix string) *T {
	conf, err := New[T](prefix)
	if err != nil {
		panic(err)
	}
	return conf
}

// New fills T from PREFIX_* variables. The -env file (or ./.env) is exported
// once per process; variables already in the environment win over the file.
func New[T any](prefix string) (*T, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	var conf T
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, fmt.Errorf("config %q: %w", prefix, err)
	}
	return &conf, nil
}

// Optional is New for backends that may be left out. It returns
// ErrNotConfigured when no PREFIX_* variable is set; a partial configuration
// is still an error.
func Optional[T any](prefix string) (*T, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(prefix) != "" && !anySet(prefix) {
		return nil, ErrNotConfigured
	}
	return New[T](prefix)
}

func anySet(prefix string) bool {
	p := strings.ToUpper(strings.TrimSpace(prefix)) + "_"
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, p) && strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

func loadEnvFile() error {
	loadOnce.Do(func() {
		if path := resolveEnvPath(); path != "" {
			if err := exportEnvironment(path); err != nil {
				loadErr = fmt.Errorf("failed to load env file: %w", err)
			}
			return
		}
		if err := exportEnvironmentIfExists(".env"); err != nil {
			loadErr = fmt.Errorf("failed to load default env file: %w", err)
		}
	})
	return loadErr
}

func resolveEnvPath() string {
	parseOnce.Do(func() {
		envFilePath = envFlag(os.Args[1:])
	})
	return envFilePath
}

// envFlag reads -env from args on a private flag set. Other flags are left to
// their owners, so this is safe to call from package init.
func envFlag(args []string) string {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	path := fs.String("env", "", "path to .env file")

	var own []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name, _, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name != "env" {
			continue
		}
		own = append(own, arg)
		if !hasValue && i+1 < len(args) {
			i++
			own = append(own, args[i])
		}
	}
	if err := fs.Parse(own); err != nil {
		return ""
	}
	return strings.TrimSpace(*path)
}

func exportEnvironmentIfExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	return exportEnvironment(path)
}

func exportEnvironment(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	for k, val := range v.AllSettings() {
		key := strings.ToUpper(k)
		if _, ok := os.LookupEnv(key); ok {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return err
		}
	}
	return nil
}
