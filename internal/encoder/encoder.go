package encoder

import (
	"bytes"
	"encoding/base64"
	"image"
	"time"

	"github.com/disintegration/imaging"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/models"
)

const ContentTypeJPEG = "image/jpeg"

// FrameSource yields the frame visible at the moment of the call.
type FrameSource interface {
	Frame() (image.Image, error)
}

// Encoder turns camera frames into JPEG FramePayloads at a fixed quality.
type Encoder struct {
	quality int
}

func New(quality int) *Encoder {
	if quality < 1 || quality > 100 {
		quality = 92
	}
	return &Encoder{quality: quality}
}

// Grab takes the frame of src visible at the moment of the call. Callers
// that encode elsewhere grab first so the frame matches the user's action.
func Grab(src FrameSource) (image.Image, time.Time, error) {
	capturedAt := time.Now()
	img, err := src.Frame()
	if err != nil {
		return nil, capturedAt, &models.EncodeError{Reason: "no frame available", Cause: err}
	}
	return img, capturedAt, nil
}

// Snapshot grabs the current frame of src and encodes it.
func (e *Encoder) Snapshot(src FrameSource) (*models.FramePayload, error) {
	img, capturedAt, err := Grab(src)
	if err != nil {
		return nil, err
	}
	return e.Encode(img, capturedAt)
}

// Encode encodes img at its native dimensions.
func (e *Encoder) Encode(img image.Image, capturedAt time.Time) (*models.FramePayload, error) {
	if img == nil {
		return nil, &models.EncodeError{Reason: "empty frame"}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &models.EncodeError{Reason: "zero-dimension frame"}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(e.quality)); err != nil {
		return nil, &models.EncodeError{Reason: "jpeg encoding failed", Cause: err}
	}
	if buf.Len() == 0 {
		return nil, &models.EncodeError{Reason: "encoder produced no data"}
	}

	return &models.FramePayload{
		Data:        buf.Bytes(),
		ContentType: ContentTypeJPEG,
		Width:       b.Dx(),
		Height:      b.Dy(),
		CapturedAt:  capturedAt,
	}, nil
}

// Thumbnail encodes img scaled to fit within maxWidth x maxHeight, used for
// live previews. Frames already small enough are encoded as is.
func (e *Encoder) Thumbnail(img image.Image, maxWidth, maxHeight int) (*models.FramePayload, error) {
	if img == nil {
		return nil, &models.EncodeError{Reason: "empty frame"}
	}
	if maxWidth > 0 && maxHeight > 0 {
		b := img.Bounds()
		if b.Dx() > maxWidth || b.Dy() > maxHeight {
			img = imaging.Fit(img, maxWidth, maxHeight, imaging.Linear)
		}
	}
	return e.Encode(img, time.Now())
}

// DataURL renders a payload as a data URL, the legacy JSON frame encoding.
func DataURL(p *models.FramePayload) string {
	return "data:" + p.ContentType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}
