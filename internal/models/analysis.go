package models

import (
	"fmt"
	"time"
)

// Mode selects the response shape requested from the Analysis Service.
type Mode string

const (
	ModeFrame   Mode = "frame"   // per-frame verdict list for an uploaded video
	ModeSummary Mode = "summary" // aggregate report for an uploaded video
	ModeLive    Mode = "live"    // one verdict for one captured camera frame
)

// ParseVideoMode accepts the modes valid for the upload pipeline.
func ParseVideoMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFrame, ModeSummary:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Posture is the verdict for one frame.
type Posture string

const (
	PostureGood       Posture = "good"
	PostureBad        Posture = "bad"
	PostureUndetected Posture = "undetected" // no person or not enough keypoints
)

// Valid reports whether p is a verdict the client renders.
func (p Posture) Valid() bool {
	switch p {
	case PostureGood, PostureBad, PostureUndetected:
		return true
	}
	return false
}

// FrameVerdict is one entry of a frame-list result.
type FrameVerdict struct {
	FrameIndex int     `json:"frame"`
	Posture    Posture `json:"posture"`
	Reason     string  `json:"reason,omitempty"`
}

// Summary is the aggregate report for a whole video.
type Summary struct {
	AccuracyPercent      float64 `json:"accuracy"`
	BadPostureFrameCount int     `json:"bad_posture_frames"`
	UndetectedFrameCount *int    `json:"undetected_frames,omitempty"`
	TopIssue             string  `json:"top_issue,omitempty"`
}

// SingleFrameResult is the verdict for one live capture.
type SingleFrameResult struct {
	Posture Posture `json:"posture"`
	Reason  string  `json:"reason,omitempty"`
}

// AnalysisResult is a discriminated union over Mode. Exactly one of
// Frames, Summary or Single is set, matching Mode. Frames is non-nil for
// ModeFrame even when the backend returned an empty list.
type AnalysisResult struct {
	RequestID  string             `json:"request_id"`
	Mode       Mode               `json:"mode"`
	Frames     []FrameVerdict     `json:"frames"`
	Summary    *Summary           `json:"summary,omitempty"`
	Single     *SingleFrameResult `json:"single,omitempty"`
	ReceivedAt time.Time          `json:"received_at"`
}

// BadFrames counts the bad verdicts of a frame-list result.
func (r *AnalysisResult) BadFrames() int {
	n := 0
	for _, f := range r.Frames {
		if f.Posture == PostureBad {
			n++
		}
	}
	return n
}

// AnalysisRequest is one unit of work sent to the Analysis Service.
type AnalysisRequest struct {
	ID          string    `json:"id"`
	Mode        Mode      `json:"mode"`
	SubmittedAt time.Time `json:"submitted_at"`
	// Exactly one payload is set.
	Frame *FramePayload `json:"-"`
	Video *VideoFile    `json:"-"`
}

// FramePayload is an encoded still image. Immutable once created.
type FramePayload struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	CapturedAt  time.Time
}

// VideoFile is a file chosen for the upload pipeline.
type VideoFile struct {
	Path        string        `json:"-"`
	Name        string        `json:"name"`
	Size        int64         `json:"size"`
	ContentType string        `json:"content_type"`
	Duration    time.Duration `json:"duration,omitempty"`
	Width       int           `json:"width,omitempty"`
	Height      int           `json:"height,omitempty"`
}
