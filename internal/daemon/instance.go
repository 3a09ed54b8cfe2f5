package daemon

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
)

// Instance makes sure only one daemon serves a given socket.
type Instance struct {
	lock       *LockFile
	pid        *PIDFile
	socketPath string
}

func NewInstance(pidPath, socketPath string) *Instance {
	return &Instance{
		lock:       NewLockFile(filepath.Join(filepath.Dir(pidPath), "daemon.lock")),
		pid:        NewPIDFile(pidPath),
		socketPath: socketPath,
	}
}

// Acquire takes the instance lock and records the pid. It fails when another
// daemon holds the lock or still answers on the socket.
func (i *Instance) Acquire() error {
	if err := i.lock.Acquire(); err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}

	if socketResponsive(i.socketPath, 500*time.Millisecond) {
		i.lock.Release()
		return fmt.Errorf("%w: %s is in use", ErrLockHeld, i.socketPath)
	}

	if err := i.pid.Write(); err != nil {
		i.lock.Release()
		return err
	}
	return nil
}

// Running reports the pid of a live daemon, if any.
func (i *Instance) Running() (int, bool) {
	return i.pid.Alive()
}

func (i *Instance) Release() error {
	var errs error
	if i.lock.Held() {
		errs = multierr.Append(errs, i.pid.Remove())
	}
	return multierr.Append(errs, i.lock.Release())
}
