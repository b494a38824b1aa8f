package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/pinnacle/internal/dircreate"
	"github.com/rendis/pinnacle/internal/server"
	"github.com/rendis/pinnacle/internal/store"
	"github.com/rendis/pinnacle/internal/streaming"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backend API server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("listen") {
			cfg.ListenAddr = serveListen
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (default :4200)")
}

func runServe(ctx context.Context) error {
	st, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	hub, closeHub, err := openHub(cfg, logger)
	if err != nil {
		return err
	}
	defer closeHub()

	timeout, err := cfg.Flowdir.timeout()
	if err != nil {
		return err
	}
	runner, err := dircreate.NewRunner(dircreate.Config{
		Command:          cfg.Flowdir.Command,
		Args:             cfg.Flowdir.Args,
		WorkingDirectory: cfg.Flowdir.WorkingDirectory,
		CentralScripts:   cfg.Flowdir.CentralScripts,
		Timeout:          timeout,
	}, logger)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Deps{
		Store:  st,
		Runner: runner,
		Hub:    hub,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	logger.Info("pinnacle server starting", "addr", cfg.ListenAddr, "db", cfg.DBPath, "flowdir_command", cfg.Flowdir.Command)
	return srv.ListenAndServe(ctx, cfg.ListenAddr)
}

// openStore opens and migrates the libsql database at path.
func openStore(ctx context.Context, path string) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// openHub returns a NATS-backed hub when nats_url is set so events cross
// process boundaries, and an in-process hub otherwise.
func openHub(c Config, logger *slog.Logger) (streaming.EventHub, func(), error) {
	if c.NATSURL == "" {
		return streaming.NewMemoryHub(), func() {}, nil
	}
	hub, err := streaming.NewNATSHub(c.NATSURL, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("event hub connected", "nats_url", c.NATSURL)
	return hub, func() {
		if err := hub.Close(); err != nil {
			logger.Warn("event hub close failed", "error", err)
		}
	}, nil
}
