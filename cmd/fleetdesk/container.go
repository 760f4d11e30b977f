package main

import (
	"context"

	"github.com/goliatone/go-query-cache/config"
	"github.com/goliatone/go-query-cache/pkg/di"
)

func openContainer(ctx context.Context, envFile string) (*di.Container, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}
	return di.NewContainer(ctx, cfg)
}
