//go:build windows

package config

import "os"

// processAlive relies on FindProcess opening a handle, which fails for
// exited processes on Windows.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
