package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/deepnoodle-ai/scriptenv/config"
	"github.com/deepnoodle-ai/scriptenv/loader"
	"github.com/deepnoodle-ai/scriptenv/script"
)

//go:embed lib
var lib embed.FS

// Loader names. Paths without a known prefix go to the file loader.
const (
	fileLoader      = "file"
	classpathLoader = "classpath"
	storeLoader     = "store"
	s3Loader        = "s3"
)

// buildLocators registers a loader for every source cfg configures. The
// returned functions release connections and must be called on exit.
func buildLocators(ctx context.Context, cfg config.Config, fsys afero.Fs, logger zerolog.Logger) (*script.Locators, []func(), error) {
	var closers []func()
	locators := script.NewLocators(fileLoader)
	locators.Register(fileLoader, loader.NewFS(fsys, cfg.ScriptDir, loader.WithSecure(true)))

	classpath, err := fs.Sub(lib, "lib")
	if err != nil {
		return nil, nil, err
	}
	locators.Register(classpathLoader, loader.NewEmbedded(classpath))

	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to script store: %w", err)
		}
		closers = append(closers, pool.Close)
		locators.Register(storeLoader, loader.NewPostgres(pool, cfg.PostgresTable))
		logger.Debug().Str("table", cfg.PostgresTable).Msg("script store enabled")
	}

	if cfg.S3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		locators.Register(s3Loader, loader.NewS3(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Prefix))
		logger.Debug().Str("bucket", cfg.S3Bucket).Str("prefix", cfg.S3Prefix).Msg("s3 scripts enabled")
	}
	return locators, closers, nil
}
