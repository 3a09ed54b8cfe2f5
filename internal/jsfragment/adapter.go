// Package jsfragment mounts JavaScript-framework fragments into DOM
// containers through the page's "<namespace>.<function>" convention.
package jsfragment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/alucardeht/mfhost/internal/bridge"
	"github.com/alucardeht/mfhost/internal/fragment"
	"github.com/alucardeht/mfhost/internal/logger"
)

var log = logger.ForComponent("jsfragment")

// Lifecycle is the part of the lifecycle manager the adapter drives.
type Lifecycle interface {
	InitializeOne(ctx context.Context, id string) error
	IsInitialized(id string) bool
	Cleanup(ctx context.Context, id string) error
}

type Adapter struct {
	module    *fragment.JS
	lifecycle Lifecycle
	invoker   bridge.Invoker

	mu          sync.Mutex
	containerID string
	mounted     bool
	disposed    bool
}

func New(module *fragment.JS, lifecycle Lifecycle, invoker bridge.Invoker) *Adapter {
	return &Adapter{
		module:    module,
		lifecycle: lifecycle,
		invoker:   invoker,
	}
}

func (a *Adapter) Module() *fragment.JS { return a.module }

func (a *Adapter) MountFunction() string {
	return a.module.Namespace() + "." + a.module.MountFunction()
}

func (a *Adapter) UnmountFunction() string {
	return a.module.Namespace() + "." + a.module.UnmountFunction()
}

// Mounted reports whether the last Mount succeeded and no Unmount followed.
func (a *Adapter) Mounted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mounted
}

// Disposed reports whether the adapter has released its container.
func (a *Adapter) Disposed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disposed
}

// Mount initializes the fragment if needed, then calls its mount function
// with containerID and props encoded as JSON. An empty containerID means the
// fragment's own element id. Initialization failures are returned as is.
func (a *Adapter) Mount(ctx context.Context, containerID string, props any) error {
	id := a.module.ID()

	if err := a.lifecycle.InitializeOne(ctx, id); err != nil {
		return err
	}

	if containerID == "" {
		containerID = a.module.ElementID()
	}

	propsJSON, err := encodeProps(props)
	if err != nil {
		return &fragment.MountError{ModuleID: id, Err: err}
	}

	if _, err := a.invoker.Invoke(ctx, a.MountFunction(), containerID, propsJSON); err != nil {
		log.Warn("mount failed", "module", id, "container", containerID, "error", err)
		return &fragment.MountError{ModuleID: id, Err: err}
	}

	a.mu.Lock()
	a.containerID = containerID
	a.mounted = true
	a.disposed = false
	a.mu.Unlock()

	log.Debug("mounted", "module", id, "container", containerID)
	return nil
}

// Unmount calls the fragment's unmount function. It does nothing when the
// fragment was never initialized. The adapter counts as disposed even when
// the call fails.
func (a *Adapter) Unmount(ctx context.Context) error {
	id := a.module.ID()
	if !a.lifecycle.IsInitialized(id) {
		return nil
	}

	a.mu.Lock()
	containerID := a.containerID
	if containerID == "" {
		containerID = a.module.ElementID()
	}
	a.mounted = false
	a.disposed = true
	a.mu.Unlock()

	if _, err := a.invoker.Invoke(ctx, a.UnmountFunction(), containerID); err != nil {
		log.Warn("unmount failed", "module", id, "container", containerID, "error", err)
		return &fragment.UnmountError{ModuleID: id, Err: err}
	}

	log.Debug("unmounted", "module", id, "container", containerID)
	return nil
}

// Cleanup unmounts and then runs the lifecycle cleanup. Both are attempted;
// the unmount error wins when both fail.
func (a *Adapter) Cleanup(ctx context.Context) error {
	unmountErr := a.Unmount(ctx)
	cleanupErr := a.lifecycle.Cleanup(ctx, a.module.ID())
	if unmountErr != nil {
		return unmountErr
	}
	return cleanupErr
}

func encodeProps(props any) (string, error) {
	if props == nil {
		return "null", nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encode props: %w", err)
	}
	return string(data), nil
}
