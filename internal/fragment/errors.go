package fragment

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidModule   = errors.New("invalid module")
	ErrDuplicateModule = errors.New("module already registered")
	ErrModuleNotFound  = errors.New("module not found")
	ErrNoAssetLoader   = errors.New("js fragment has no asset loader")
)

type InitializationError struct {
	ModuleID string
	Err      error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize module %q: %v", e.ModuleID, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

type MountError struct {
	ModuleID string
	Err      error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("mount module %q: %v", e.ModuleID, e.Err)
}

func (e *MountError) Unwrap() error { return e.Err }

type UnmountError struct {
	ModuleID string
	Err      error
}

func (e *UnmountError) Error() string {
	return fmt.Sprintf("unmount module %q: %v", e.ModuleID, e.Err)
}

func (e *UnmountError) Unwrap() error { return e.Err }

type Kind string

const (
	KindNone           Kind = ""
	KindInvalidModule  Kind = "invalid_module"
	KindDuplicate      Kind = "duplicate_module"
	KindNotFound       Kind = "module_not_found"
	KindInitialization Kind = "initialization"
	KindMount          Kind = "mount"
	KindUnmount        Kind = "unmount"
	KindCanceled       Kind = "canceled"
	KindUnknown        Kind = "unknown"
)

// KindOf classifies err into the host's error taxonomy. Mount and unmount
// failures take precedence over an initialization failure they wrap.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	var (
		mountErr   *MountError
		unmountErr *UnmountError
		initErr    *InitializationError
	)

	switch {
	case errors.As(err, &mountErr):
		return KindMount
	case errors.As(err, &unmountErr):
		return KindUnmount
	case errors.As(err, &initErr):
		return KindInitialization
	case errors.Is(err, ErrModuleNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicateModule):
		return KindDuplicate
	case errors.Is(err, ErrInvalidModule):
		return KindInvalidModule
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}

	return KindUnknown
}
