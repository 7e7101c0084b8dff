package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/nimbusfs/sftpd/internal/logger"
	"github.com/nimbusfs/sftpd/internal/protocol/sftp"
	"github.com/nimbusfs/sftpd/pkg/config"
	"github.com/nimbusfs/sftpd/pkg/metrics"
	"github.com/nimbusfs/sftpd/pkg/transport/sshd"
	"github.com/nimbusfs/sftpd/pkg/vfs/localfs"
	"github.com/nimbusfs/sftpd/pkg/vfs/memfs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sftpd server in the foreground",
	Long: `Run the sftpd server.

Loads configuration from --config (or the default location), initializes
logging, binds the SFTP-over-SSH listener, and serves until interrupted.

Examples:
  sftpd serve
  sftpd serve --config /etc/sftpd/config.yaml
  SFTPD_LISTEN=:2222 sftpd serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	fs, err := buildFilesystem(cfg)
	if err != nil {
		return err
	}

	sshConfig, err := sshd.BuildServerConfig(cfg.HostKeys, cfg.AuthorizedKeys)
	if err != nil {
		return fmt.Errorf("failed to configure SSH transport: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	server := &sshd.Server{
		Config:        sshConfig,
		NewFilesystem: func(conn *ssh.ServerConn) sftp.Filesystem { return fs },
		Metrics:       m,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan error, 1)
	go func() { serverDone <- server.ListenAndServe(ctx, cfg.Listen) }()

	if m != nil {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
		logger.Info("metrics enabled", "addr", cfg.Metrics.Addr)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("sftpd is running", "listen", cfg.Listen, "backend", cfg.Backend)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received")
		cancel()
		if err := <-serverDone; err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("sftpd stopped")
	return nil
}

func buildFilesystem(cfg *config.Config) (sftp.Filesystem, error) {
	switch cfg.Backend {
	case "", "mem":
		return memfs.New(), nil
	case "local":
		if cfg.Root == "" {
			return nil, fmt.Errorf("backend %q requires root to be set", cfg.Backend)
		}
		return localfs.New(cfg.Root)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
