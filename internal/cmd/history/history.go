// Package history parses history service flags and launches the service.
package history

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/benchhistory/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/benchhistory/internal/platform/grpc"
	server "github.com/louisbranch/benchhistory/internal/services/history/app"
)

const healthCheckTimeout = 5 * time.Second

// Config holds history command configuration.
type Config struct {
	HTTPAddr        string `env:"BENCHHISTORY_HTTP_ADDR" envDefault:":8080"`
	GRPCPort        int    `env:"BENCHHISTORY_GRPC_PORT" envDefault:"8081"`
	DBPath          string `env:"BENCHHISTORY_DB_PATH" envDefault:"data/history.db"`
	CommitBaseURL   string `env:"BENCHHISTORY_COMMIT_BASE_URL" envDefault:"https://github.com/vitessio/vitess"`
	DisplayTimezone string `env:"BENCHHISTORY_DISPLAY_TIMEZONE" envDefault:"UTC"`
	// HealthCheck probes a running server's gRPC health and exits.
	HealthCheck bool
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	fs.StringVar(&cfg.HTTPAddr, "http-addr", ":8080", "HTTP listen address for pages and API")
	fs.IntVar(&cfg.GRPCPort, "grpc-port", 8081, "gRPC health port (0 disables)")
	fs.StringVar(&cfg.DBPath, "db-path", "data/history.db", "SQLite database path")
	fs.StringVar(&cfg.CommitBaseURL, "commit-base-url", "https://github.com/vitessio/vitess", "repository URL that commit links point to")
	fs.StringVar(&cfg.DisplayTimezone, "display-timezone", "UTC", "IANA timezone used to display dates")
	fs.BoolVar(&cfg.HealthCheck, "health-check", false, "probe the running server's gRPC health and exit")
	if err := entrypoint.ParseConfigFromArgs(&cfg, fs, args); err != nil {
		return Config{}, err
	}
	if cfg.GRPCPort < 0 || cfg.GRPCPort > 65535 {
		return Config{}, fmt.Errorf("invalid grpc port: %d", cfg.GRPCPort)
	}
	return cfg, nil
}

// ServerConfig resolves cfg into the server configuration.
func (cfg Config) ServerConfig() (server.Config, error) {
	location, err := time.LoadLocation(strings.TrimSpace(cfg.DisplayTimezone))
	if err != nil {
		return server.Config{}, fmt.Errorf("load display timezone %q: %w", cfg.DisplayTimezone, err)
	}
	out := server.Config{
		HTTPAddr:      cfg.HTTPAddr,
		DBPath:        cfg.DBPath,
		CommitBaseURL: cfg.CommitBaseURL,
		Location:      location,
		Logger:        log.Default(),
	}
	if cfg.GRPCPort > 0 {
		out.GRPCAddr = net.JoinHostPort("", strconv.Itoa(cfg.GRPCPort))
	}
	return out, nil
}

// Run starts the history service, or probes it when HealthCheck is set.
func Run(ctx context.Context, cfg Config) error {
	if cfg.HealthCheck {
		return probe(ctx, cfg)
	}
	serverCfg, err := cfg.ServerConfig()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(serverCfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceHistory, func(ctx context.Context) error {
		return server.Run(ctx, serverCfg)
	})
}

func probe(ctx context.Context, cfg Config) error {
	if cfg.GRPCPort <= 0 {
		return errors.New("health check requires a gRPC port")
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.GRPCPort))
	return platformgrpc.ProbeHealth(ctx, addr, server.HealthServiceName, log.Printf)
}
