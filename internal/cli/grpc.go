package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/config"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/server"
)

// requestTimeout bounds unary calls made by commands.
const requestTimeout = 15 * time.Second

// connectDaemon establishes a gRPC connection to the running daemon.
func connectDaemon() (*server.Client, error) {
	info, err := config.LoadDaemonInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to load daemon info: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("daemon not running")
	}

	settings, err := config.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	return server.Dial(info.Addr(), settings.API.Secret)
}

// withDaemon starts the daemon if needed and runs fn with a connected client.
func withDaemon(fn func(ctx context.Context, c *server.Client) error) error {
	if err := EnsureDaemon(); err != nil {
		return err
	}
	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return fn(ctx, c)
}
