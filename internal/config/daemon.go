package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

// LoadDaemonInfo reads the discovery file the daemon writes on start.
// It returns nil when no daemon has announced itself.
func LoadDaemonInfo() (*models.DaemonInfo, error) {
	path, err := GlobalDaemonFile()
	if err != nil {
		return nil, err
	}
	info := &models.DaemonInfo{}
	if err := LoadYAML(path, info); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return info, nil
}

// SaveDaemonInfo announces the daemon's address and PID.
func SaveDaemonInfo(info *models.DaemonInfo) error {
	if err := EnsureGlobalDir(); err != nil {
		return fmt.Errorf("failed to create global directory: %w", err)
	}
	path, err := GlobalDaemonFile()
	if err != nil {
		return err
	}
	return SaveYAML(path, info)
}

// RemoveDaemonInfo deletes the discovery file. A missing file is not an error.
func RemoveDaemonInfo() error {
	path, err := GlobalDaemonFile()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// IsDaemonRunning reports whether the discovery file names a live process.
// A file left behind by a daemon that died without cleaning up is removed,
// and its last known info is still returned.
func IsDaemonRunning() (bool, *models.DaemonInfo, error) {
	info, err := LoadDaemonInfo()
	if err != nil || info == nil {
		return false, nil, err
	}
	if processAlive(info.PID) {
		return true, info, nil
	}
	_ = RemoveDaemonInfo()
	return false, info, nil
}
