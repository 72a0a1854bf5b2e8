// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

// Package motion implements the Motion Adapter (C10): a thin state machine
// in front of a single vendor axis, responsible for bounds checking,
// default acceleration, and translating the axis driver's async completion
// into a blocking call the workflow engine can await.
package motion

import "context"

// Axis is the vendor-specific hardware collaborator the adapter drives. A
// real implementation talks to the drive over its own fieldbus/SDK;
// SimulatedAxis stands in for it in tests and local runs.
type Axis interface {
	// Enable brings the axis online. Called once, from Initialize.
	Enable(ctx context.Context) error
	// Disable powers the axis off. Called from Shutdown.
	Disable(ctx context.Context) error
	// MoveTo commands an absolute move to target (in pulses) at the given
	// speed and acceleration, and blocks until the axis reports motion
	// done or ctx is cancelled.
	MoveTo(ctx context.Context, target int64, speed, accel int) error
	// Stop commands a controlled stop at the given deceleration.
	Stop(ctx context.Context, decel int) error
	// Position reads the axis's current position in pulses.
	Position(ctx context.Context) (int64, error)
}
