package dto

// CreateSessionResponse represents response after creating a page session
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	CreatedAt string `json:"created_at"`
}

// SetModeRequest selects the upload analysis mode
type SetModeRequest struct {
	Mode string `json:"mode"`
}

// SelectFileResponse represents response after a video file was selected
type SelectFileResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	FileName  string `json:"file_name"`
	Size      int64  `json:"size"`
}
