//go:build unix

package daemon

import "golang.org/x/sys/unix"

// processExists sends signal 0, which only checks that pid can be signalled.
func processExists(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
