package models

import (
	"fmt"
	"time"
)

// FacingMode selects which camera to open.
type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// Constraints describe the camera stream requested by acquisition.
type Constraints struct {
	Width  int        `json:"width"`
	Height int        `json:"height"`
	Facing FacingMode `json:"facing_mode"`
	FPS    int        `json:"fps,omitempty"`
}

// Resolution returns the requested resolution as "WxH".
func (c Constraints) Resolution() string {
	return fmt.Sprintf("%dx%d", c.Width, c.Height)
}

// Validate rejects constraints no device can satisfy.
func (c Constraints) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid resolution %s", c.Resolution())
	}
	switch c.Facing {
	case FacingUser, FacingEnvironment:
	default:
		return fmt.Errorf("invalid facing mode %q", c.Facing)
	}
	return nil
}

// SessionStatus is the lifecycle status of a capture session.
type SessionStatus string

// Capture session statuses
const (
	StatusAcquiring SessionStatus = "acquiring"
	StatusReady     SessionStatus = "ready"
	StatusFailed    SessionStatus = "failed"
	StatusReleased  SessionStatus = "released"
)

// SessionInfo is a read-only description of a capture session.
type SessionInfo struct {
	ID          string        `json:"id"`
	Constraints Constraints   `json:"constraints"`
	Status      SessionStatus `json:"status"`
	Width       int           `json:"width"`
	Height      int           `json:"height"`
	AcquiredAt  time.Time     `json:"acquired_at"`
}
