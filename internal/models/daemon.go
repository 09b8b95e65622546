package models

import (
	"net"
	"strconv"
	"time"
)

// DaemonInfo represents the daemon connection information.
// This corresponds to ~/.openloaf/daemon.yaml.
type DaemonInfo struct {
	Version   int       `yaml:"version"`
	Host      string    `yaml:"host"`
	Port      int       `yaml:"port"`
	PID       int       `yaml:"pid"`
	StartedAt time.Time `yaml:"started_at"`

	// WorkspaceRoot is the root the daemon keeps workspace-scoped tasks under.
	WorkspaceRoot string `yaml:"workspace_root"`
}

// NewDaemonInfo creates a new daemon info with current values.
func NewDaemonInfo(host string, port, pid int, workspaceRoot string) *DaemonInfo {
	return &DaemonInfo{
		Version:       1,
		Host:          host,
		Port:          port,
		PID:           pid,
		StartedAt:     time.Now().UTC(),
		WorkspaceRoot: workspaceRoot,
	}
}

// Addr returns the host:port clients dial.
func (d *DaemonInfo) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}
