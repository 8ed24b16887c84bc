package main

import (
	"log"

	"voxelprint.ai/internal/config"
	"voxelprint.ai/internal/persistence/r2s3"
)

// buildMirror returns nil when the mirror is disabled.
func buildMirror(cfg config.Config, logger *log.Logger) (*r2s3.Mirror, error) {
	if !cfg.Mirror.Enabled {
		return nil, nil
	}
	client, err := r2s3.New(r2s3.Config{
		Endpoint:        cfg.Mirror.Endpoint,
		Region:          cfg.Mirror.Region,
		Bucket:          cfg.Mirror.Bucket,
		AccessKeyID:     cfg.Mirror.AccessKeyID,
		SecretAccessKey: cfg.Mirror.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	return r2s3.NewMirror(client, cfg.DataDir, cfg.Mirror.Prefix, cfg.Mirror.Workers, logger), nil
}
