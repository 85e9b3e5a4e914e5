package models

import (
	"errors"
	"fmt"
)

// Command rejections. These never move a pipeline to Failed.
var (
	ErrNotReady        = errors.New("pipeline is not ready")
	ErrBusy            = errors.New("an analysis request is already in flight")
	ErrClosed          = errors.New("pipeline is closed")
	ErrNoFile          = errors.New("no video file selected")
	ErrFileTooLarge    = errors.New("video file exceeds the upload limit")
	ErrUnsupportedFile = errors.New("selected file is not a video")
	ErrInvalidMode     = errors.New("invalid analysis mode")
)

// Error kinds as rendered in the view state.
const (
	KindDevice    = "DeviceError"
	KindEncode    = "EncodeError"
	KindTransport = "TransportError"
	KindResponse  = "ResponseError"
	KindInternal  = "InternalError"
)

// DeviceError reports a camera that could not be acquired. Code carries the
// platform error name (NotAllowedError, NotFoundError, NotReadableError, ...).
type DeviceError struct {
	Code        string
	Description string
	Cause       error
}

func (e *DeviceError) Error() string {
	msg := fmt.Sprintf("camera unavailable (%s): %s", e.Code, e.Description)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *DeviceError) Unwrap() error { return e.Cause }

// EncodeError reports a capture that produced no usable image.
type EncodeError struct {
	Reason string
	Cause  error
}

func (e *EncodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("frame encoding failed: %s: %v", e.Reason, e.Cause)
	}
	return "frame encoding failed: " + e.Reason
}

func (e *EncodeError) Unwrap() error { return e.Cause }

// TransportError reports an exchange that produced no response at all.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("analysis service unreachable: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// ResponseError reports a non-success status or an unparseable body.
type ResponseError struct {
	StatusCode int
	Detail     string
}

func (e *ResponseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("analysis service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("analysis service returned status %d: %s", e.StatusCode, e.Detail)
}

// ErrorKind names the taxonomy entry of err.
func ErrorKind(err error) string {
	var (
		devErr  *DeviceError
		encErr  *EncodeError
		netErr  *TransportError
		respErr *ResponseError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &devErr):
		return KindDevice
	case errors.As(err, &encErr):
		return KindEncode
	case errors.As(err, &netErr):
		return KindTransport
	case errors.As(err, &respErr):
		return KindResponse
	}
	return KindInternal
}
