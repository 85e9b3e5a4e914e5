package dto

import "encoding/json"

// AnalyzeResponse is the body returned by /analyze and /analyze-frame.
// "feedback" is canonical; "result" is a deprecated alias served by some
// backend revisions.
type AnalyzeResponse struct {
	Feedback json.RawMessage `json:"feedback"`
	Result   json.RawMessage `json:"result"`
}

// FrameFeedback is one element of a mode=frame feedback array.
type FrameFeedback struct {
	Frame   *int    `json:"frame"`
	Posture string  `json:"posture"`
	Reason  *string `json:"reason"`
}

// VerdictFeedback is the single-frame feedback object. A posture of "error"
// is a backend-reported failure.
type VerdictFeedback struct {
	Posture string  `json:"posture"`
	Reason  *string `json:"reason"`
}

// SummaryFeedback is the mode=summary feedback object.
type SummaryFeedback struct {
	Accuracy         *float64 `json:"accuracy"`
	BadPostureFrames *int     `json:"bad_posture_frames"`
	UndetectedFrames *int     `json:"undetected_frames"`
	TopIssue         *string  `json:"top_issue"`
	// Present when the backend failed to open the video.
	Posture string `json:"posture"`
	Reason  string `json:"reason"`
}

// FrameDataRequest is the legacy JSON encoding for /analyze-frame.
type FrameDataRequest struct {
	ImageData string `json:"image_data"`
}

// BackendError is the error body produced by the Analysis Service.
type BackendError struct {
	Detail json.RawMessage `json:"detail"`
}
