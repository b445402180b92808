// Copyright 2024 Lozee Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lozee/lozee-relay/internal/config"
	"github.com/lozee/lozee-relay/internal/metrics"
	internalopenai "github.com/lozee/lozee-relay/internal/openai"
	"github.com/lozee/lozee-relay/internal/relay"
)

type serveOptions struct {
	configPath string
	envFile    string
	watch      bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&opts.envFile, "env-file", "", "Path to a .env file (default ./.env when present)")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Reload the log level when the configuration file changes")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := config.LoadWithOptions(config.LoadOptions{
		ConfigPath:       opts.configPath,
		EnvFile:          opts.envFile,
		ValidateRequired: true,
	})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, level, err := initializeLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	masked := cfg.MaskSensitiveValues()
	logger.Info("Configuration loaded successfully",
		zap.String("service", relay.ServiceName),
		zap.String("environment", os.Getenv("ENVIRONMENT")),
		zap.String("chat_model", masked.Chat.Model),
		zap.Strings("allowed_models", masked.Chat.AllowedModels),
		zap.Float64("temperature", masked.Chat.Temperature),
		zap.String("split_strategy", masked.Chat.SplitStrategy),
		zap.String("analysis_field", masked.Chat.AnalysisField),
		zap.String("openai_endpoint", masked.OpenAI.Endpoint),
		zap.String("openai_api_key", masked.OpenAI.APIKey),
	)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	server, err := relay.NewServer(cfg, newDependencies(cfg, logger), logger)
	if err != nil {
		return err
	}

	if opts.watch {
		err := config.Watch(opts.configPath, func(updated *config.Config) {
			level.SetLevel(parseLevel(updated.Logging.Level))
			logger.Info("Configuration reloaded", zap.String("log_level", updated.Logging.Level))
		}, func(err error) {
			logger.Warn("Ignoring invalid configuration change", zap.Error(err))
		})
		if err != nil {
			logger.Warn("Configuration watch disabled", zap.Error(err))
		}
	}

	return serveUntilDone(ctx, server.HTTPServer(":"+cfg.Server.Port),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second, logger)
}

// serveUntilDone runs httpServer until ctx ends or a termination signal
// arrives, then drains in-flight requests within shutdownTimeout.
func serveUntilDone(ctx context.Context, httpServer *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting relay", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down relay", zap.Duration("timeout", shutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// newDependencies builds the vendor client. Without an API key the vendor
// fields stay nil and the relay answers those routes with 500.
func newDependencies(cfg *config.Config, logger *zap.Logger) relay.Dependencies {
	deps := relay.Dependencies{Metrics: metrics.New()}

	if !cfg.HasAPIKey() {
		logger.Warn("OPENAI_API_KEY is not set; chat and speech routes will fail")
		return deps
	}

	clientConfig := openai.DefaultConfig(cfg.OpenAI.APIKey)
	if cfg.OpenAI.Endpoint != "" {
		clientConfig.BaseURL = cfg.OpenAI.Endpoint
	}
	client := internalopenai.NewClientWithConfig(clientConfig, logger)

	deps.Chat = client
	deps.Transcriber = client
	deps.Synthesizer = client
	return deps
}
