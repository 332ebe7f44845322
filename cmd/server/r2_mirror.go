package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"flowcraft.ai/internal/persistence/r2s3"
)

// mirrorRotateLayout gives one-minute tick log segments when mirroring, to lower the RPO.
const mirrorRotateLayout = "2006-01-02-15-04"

// buildMirror returns nil when FLOWCRAFT_R2_MIRROR is off. A nil *r2s3.Mirror ignores Enqueue.
func buildMirror(dataDir string, log logrus.FieldLogger) (*r2s3.Mirror, error) {
	cfg, err := r2s3.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := r2s3.New(cfg)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"bucket": cfg.Bucket, "prefix": cfg.Prefix, "workers": cfg.Workers}).Info("r2 mirror enabled")
	return r2s3.NewMirror(client, dataDir, cfg, log), nil
}

func enqueueIfExists(m *r2s3.Mirror, path string) {
	if m == nil {
		return
	}
	if _, err := os.Stat(path); err == nil {
		m.Enqueue(path)
	}
}
