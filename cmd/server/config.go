package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// serverEnv is the runtime configuration read from FLOWCRAFT_* variables. Simulation parameters
// live in tuning.yaml; these only affect the host around the world.
type serverEnv struct {
	DeployEnv string `env:"DEPLOY_ENV"`

	LogLevel  string `env:"FLOWCRAFT_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"FLOWCRAFT_LOG_FORMAT" envDefault:"text"`

	// Unset means "on outside staging and production".
	AdminHTTP *bool `env:"FLOWCRAFT_ENABLE_ADMIN_HTTP"`
	PprofHTTP bool  `env:"FLOWCRAFT_ENABLE_PPROF_HTTP"`

	IndexBackend string `env:"FLOWCRAFT_INDEX_BACKEND" envDefault:"sqlite"`
	D1           d1Env  `envPrefix:"FLOWCRAFT_INDEX_D1_"`

	// Tick log segment layout; mirrored deployments rotate every minute.
	LogRotateLayout string `env:"FLOWCRAFT_LOG_ROTATE_LAYOUT"`

	ArchiveEveryTicks uint64 `env:"FLOWCRAFT_ARCHIVE_EVERY_TICKS"`
	KeepSnapshots     int    `env:"FLOWCRAFT_KEEP_SNAPSHOTS"`
}

type d1Env struct {
	IngestURL     string        `env:"INGEST_URL"`
	Token         string        `env:"TOKEN"`
	BatchSize     int           `env:"BATCH_SIZE" envDefault:"128"`
	FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"500ms"`
}

func loadServerEnv() (serverEnv, error) {
	var e serverEnv
	if err := env.Parse(&e); err != nil {
		return e, fmt.Errorf("server env: %w", err)
	}
	e.IndexBackend = strings.ToLower(strings.TrimSpace(e.IndexBackend))
	return e, nil
}

func (e serverEnv) adminHTTPEnabled() bool {
	if e.AdminHTTP != nil {
		return *e.AdminHTTP
	}
	switch strings.ToLower(strings.TrimSpace(e.DeployEnv)) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func newLogger(e serverEnv) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	lvl, err := logrus.ParseLevel(e.LogLevel)
	if err != nil {
		return nil, err
	}
	l.SetLevel(lvl)
	switch strings.ToLower(e.LogFormat) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", e.LogFormat)
	}
	return l, nil
}
