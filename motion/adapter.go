// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

package motion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/caoyingjie21/IntelligentOutboundSystem/config"
	pkgerrors "github.com/caoyingjie21/IntelligentOutboundSystem/pkg/errors"
)

var (
	// ErrAlreadyInitialized is returned by Initialize when called twice.
	ErrAlreadyInitialized = pkgerrors.New("motion adapter already initialized")
	// ErrUninitialized is returned by any move/home/stop call before Initialize.
	ErrUninitialized = pkgerrors.New("motion adapter uninitialized")
	// ErrOutOfRange is returned when a target position falls outside the
	// configured [min_position, max_position] bounds.
	ErrOutOfRange = pkgerrors.New("out_of_range")
)

// Status is the adapter's get_status() response.
type Status struct {
	Position  int64     `json:"position"`
	IsEnabled bool      `json:"isEnabled"`
	IsMoving  bool      `json:"isMoving"`
	HasError  bool      `json:"hasError"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Adapter is the Motion Adapter (C10): bounds checking and state tracking
// layered over a single Axis collaborator.
type Adapter struct {
	axis   Axis
	cfg    config.MotionConfig
	logger *slog.Logger

	mu          sync.Mutex
	initialized bool
	position    int64
	isMoving    bool
	hasError    bool
	lastError   string
}

// New constructs an Adapter over axis, bounded by cfg.MinPosition/MaxPosition.
func New(axis Axis, cfg config.MotionConfig, logger *slog.Logger) *Adapter {
	return &Adapter{axis: axis, cfg: cfg, logger: logger}
}

// Initialize brings the axis online. It is a one-shot operation; calling it
// twice returns ErrAlreadyInitialized.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return ErrAlreadyInitialized
	}
	if err := a.axis.Enable(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.New("enable axis"), pkgerrors.New(err.Error()))
	}
	pos, err := a.axis.Position(ctx)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.New("read initial position"), pkgerrors.New(err.Error()))
	}
	a.position = pos
	a.initialized = true
	a.hasError = false
	a.lastError = ""
	return nil
}

// MoveAbsolute moves to positionPulses at speed (or the configured default
// speed if speed is 0), using acceleration speed*10 (§4.10). It blocks until
// the axis reports motion done, the configured move timeout elapses, or ctx
// is cancelled; on timeout it issues Stop and marks the adapter errored.
func (a *Adapter) MoveAbsolute(ctx context.Context, positionPulses int64, speed int) error {
	a.mu.Lock()
	if !a.initialized {
		a.mu.Unlock()
		return ErrUninitialized
	}
	if positionPulses < a.cfg.MinPosition || positionPulses > a.cfg.MaxPosition {
		a.mu.Unlock()
		return ErrOutOfRange
	}
	if speed <= 0 {
		speed = a.cfg.DefaultSpeed
	}
	a.isMoving = true
	a.mu.Unlock()

	moveCtx, cancel := context.WithTimeout(ctx, a.cfg.MoveTimeout())
	defer cancel()

	err := a.axis.MoveTo(moveCtx, positionPulses, speed, speed*10)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.isMoving = false

	if err != nil {
		a.hasError = true
		a.lastError = err.Error()
		_ = a.axis.Stop(context.Background(), speed*10)
		return pkgerrors.Wrap(pkgerrors.New("move_absolute"), pkgerrors.New(err.Error()))
	}

	pos, posErr := a.axis.Position(context.Background())
	if posErr == nil {
		a.position = pos
	} else {
		a.position = positionPulses
	}
	a.hasError = false
	a.lastError = ""
	return nil
}

// MoveRelative is move_absolute(current_position + delta, speed) (§4.10).
func (a *Adapter) MoveRelative(ctx context.Context, delta int64, speed int) error {
	a.mu.Lock()
	current := a.position
	initialized := a.initialized
	a.mu.Unlock()
	if !initialized {
		return ErrUninitialized
	}
	return a.MoveAbsolute(ctx, current+delta, speed)
}

// Home is move_absolute(0, speed) (§4.10).
func (a *Adapter) Home(ctx context.Context, speed int) error {
	return a.MoveAbsolute(ctx, 0, speed)
}

// Stop commands a controlled stop at speed*10 deceleration, using the
// configured default speed.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.initialized {
		a.mu.Unlock()
		return ErrUninitialized
	}
	speed := a.cfg.DefaultSpeed
	a.mu.Unlock()

	if err := a.axis.Stop(ctx, speed*10); err != nil {
		a.mu.Lock()
		a.hasError = true
		a.lastError = err.Error()
		a.mu.Unlock()
		return pkgerrors.Wrap(pkgerrors.New("stop"), pkgerrors.New(err.Error()))
	}

	a.mu.Lock()
	a.isMoving = false
	a.mu.Unlock()
	return nil
}

// GetStatus returns the axis's current position, enabled/moving/error
// flags, and timestamp. If the adapter has never been initialized it
// reports {position:0, hasError:true, error:"uninitialized"} per §4.10.
func (a *Adapter) GetStatus() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return Status{HasError: true, Error: "uninitialized", Timestamp: time.Now().UTC()}
	}
	return Status{
		Position:  a.position,
		IsEnabled: true,
		IsMoving:  a.isMoving,
		HasError:  a.hasError,
		Error:     a.lastError,
		Timestamp: time.Now().UTC(),
	}
}

// Shutdown homes the axis if it is not already at zero, then powers it off.
// It is idempotent: calling it when uninitialized is a no-op.
func (a *Adapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	initialized := a.initialized
	pos := a.position
	a.mu.Unlock()

	if !initialized {
		return nil
	}

	if pos != 0 {
		if err := a.Home(ctx, 0); err != nil {
			a.logger.Warn(fmt.Sprintf("motion: home-before-shutdown failed: %s", err))
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.axis.Disable(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.New("disable axis"), pkgerrors.New(err.Error()))
	}
	a.initialized = false
	return nil
}
