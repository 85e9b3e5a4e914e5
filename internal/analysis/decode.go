package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/dto"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/models"
)

// postureError is the verdict the backend uses to report a failure with a
// success status.
const postureError = "error"

func malformed(status int, format string, args ...any) error {
	return &models.ResponseError{StatusCode: status, Detail: fmt.Sprintf(format, args...)}
}

// backendFailure turns an in-band {"posture": "error"} into a ResponseError.
func backendFailure(status int, reason string) error {
	if reason == "" {
		reason = "analysis failed"
	}
	return &models.ResponseError{StatusCode: status, Detail: reason}
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func parseSingle(raw json.RawMessage, status int) (*models.SingleFrameResult, error) {
	if isArray(raw) {
		return nil, malformed(status, "expected a single verdict, got a list")
	}
	var fb dto.VerdictFeedback
	if err := json.Unmarshal(raw, &fb); err != nil {
		return nil, malformed(status, "malformed verdict: %v", err)
	}
	reason := ""
	if fb.Reason != nil {
		reason = *fb.Reason
	}
	if fb.Posture == postureError {
		return nil, backendFailure(status, reason)
	}
	posture := models.Posture(fb.Posture)
	if !posture.Valid() {
		return nil, malformed(status, "unknown posture %q", fb.Posture)
	}
	return &models.SingleFrameResult{Posture: posture, Reason: reason}, nil
}

func parseFrameList(raw json.RawMessage, status int) ([]models.FrameVerdict, error) {
	if !isArray(raw) {
		var fb dto.VerdictFeedback
		if err := json.Unmarshal(raw, &fb); err == nil && fb.Posture == postureError {
			reason := ""
			if fb.Reason != nil {
				reason = *fb.Reason
			}
			return nil, backendFailure(status, reason)
		}
		return nil, malformed(status, "expected a frame list")
	}

	var items []dto.FrameFeedback
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, malformed(status, "malformed frame list: %v", err)
	}
	frames := make([]models.FrameVerdict, 0, len(items))
	for i, item := range items {
		if item.Frame == nil || *item.Frame < 0 {
			return nil, malformed(status, "entry %d has no frame index", i)
		}
		posture := models.Posture(item.Posture)
		if !posture.Valid() {
			return nil, malformed(status, "frame %d has unknown posture %q", *item.Frame, item.Posture)
		}
		v := models.FrameVerdict{FrameIndex: *item.Frame, Posture: posture}
		if item.Reason != nil {
			v.Reason = *item.Reason
		}
		frames = append(frames, v)
	}
	return frames, nil
}

func parseSummary(raw json.RawMessage, status int) (*models.Summary, error) {
	if isArray(raw) {
		return nil, malformed(status, "expected a summary, got a list")
	}
	var fb dto.SummaryFeedback
	if err := json.Unmarshal(raw, &fb); err != nil {
		return nil, malformed(status, "malformed summary: %v", err)
	}
	if fb.Posture == postureError {
		return nil, backendFailure(status, fb.Reason)
	}
	if fb.Accuracy == nil || fb.BadPostureFrames == nil {
		return nil, malformed(status, "summary is missing accuracy or bad_posture_frames")
	}
	if *fb.Accuracy < 0 || *fb.Accuracy > 100 {
		return nil, malformed(status, "accuracy %v out of range", *fb.Accuracy)
	}
	if *fb.BadPostureFrames < 0 {
		return nil, malformed(status, "negative bad_posture_frames")
	}

	summary := &models.Summary{
		AccuracyPercent:      *fb.Accuracy,
		BadPostureFrameCount: *fb.BadPostureFrames,
		UndetectedFrameCount: fb.UndetectedFrames,
	}
	// "None" is what the backend sends when no frame was bad.
	if fb.TopIssue != nil {
		if issue := strings.TrimSpace(*fb.TopIssue); issue != "" && issue != "None" {
			summary.TopIssue = issue
		}
	}
	return summary, nil
}
