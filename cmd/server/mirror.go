package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"manvsim.ai/internal/persistence/mirror"
	"manvsim.ai/internal/sim/tuning"
)

func buildMirror(ctx context.Context, cfg tuning.Mirror, dataDir string, log *zap.Logger) (*mirror.Mirror, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("mirror enabled but no bucket configured (MANV_MIRROR_BUCKET)")
	}
	client, err := mirror.NewClient(ctx, mirror.Config{
		Endpoint:        cfg.Endpoint,
		Region:          cfg.Region,
		Bucket:          cfg.Bucket,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		PathStyle:       cfg.PathStyle,
	})
	if err != nil {
		return nil, err
	}
	log.Info("mirror enabled", zap.String("bucket", cfg.Bucket), zap.String("prefix", cfg.Prefix))
	return mirror.New(client, dataDir, cfg.Prefix, mirror.Options{
		Workers:       cfg.Workers,
		QueueCapacity: cfg.QueueCapacity,
	}, log.Named("mirror")), nil
}
