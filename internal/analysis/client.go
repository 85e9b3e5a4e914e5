// Package analysis dispatches AnalysisRequests to the remote posture
// Analysis Service and maps its responses into AnalysisResults.
//
// Wire contract. Canonical: multipart bodies (field "file"), response key
// "feedback". Deprecated aliases kept for older backend revisions: the JSON
// {"image_data": "<data-url>"} frame encoding (FRAME_ENCODING=json) and the
// "result" response key. The client never retries on its own.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/config"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/dto"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/encoder"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/models"
)

const (
	maxResponseBytes = 16 << 20
	maxDetailLength  = 512
	frameFileName    = "frame.jpg"
)

// Options configure a Client.
type Options struct {
	BaseURL          *url.URL
	AnalysisEndpoint string
	FrameEndpoint    string
	VideoFieldName   string
	FrameFieldName   string
	FrameEncoding    string
	VideoTimeout     time.Duration
	FrameTimeout     time.Duration
	Transport        http.RoundTripper
}

// OptionsFromConfig derives client options from the service configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:          cfg.BackendURL,
		AnalysisEndpoint: cfg.AnalysisEndpoint,
		FrameEndpoint:    cfg.FrameEndpoint,
		VideoFieldName:   cfg.VideoFieldName,
		FrameFieldName:   cfg.FrameFieldName,
		FrameEncoding:    cfg.FrameEncoding,
		VideoTimeout:     cfg.AnalysisTimeout,
		FrameTimeout:     cfg.FrameTimeout,
	}
}

// Client talks to the Analysis Service.
type Client struct {
	opts        Options
	videoClient *http.Client
	frameClient *http.Client
	logger      hclog.Logger
}

// NewClient creates a Client with bounded per-request timeouts.
func NewClient(opts Options, logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if opts.AnalysisEndpoint == "" {
		opts.AnalysisEndpoint = "/analyze"
	}
	if opts.FrameEndpoint == "" {
		opts.FrameEndpoint = "/analyze-frame"
	}
	if opts.VideoFieldName == "" {
		opts.VideoFieldName = "file"
	}
	if opts.FrameFieldName == "" {
		opts.FrameFieldName = "file"
	}
	if opts.FrameEncoding == "" {
		opts.FrameEncoding = config.FrameEncodingMultipart
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	return &Client{
		opts:        opts,
		videoClient: &http.Client{Timeout: opts.VideoTimeout, Transport: transport},
		frameClient: &http.Client{Timeout: opts.FrameTimeout, Transport: transport},
		logger:      logger,
	}
}

// SubmitFrame posts one encoded camera frame and parses exactly one verdict.
func (c *Client) SubmitFrame(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error) {
	if req.Frame == nil {
		return nil, fmt.Errorf("frame request %s has no payload", req.ID)
	}

	var (
		body        io.Reader
		contentType string
	)
	switch c.opts.FrameEncoding {
	case config.FrameEncodingJSON:
		data, err := json.Marshal(dto.FrameDataRequest{ImageData: encoder.DataURL(req.Frame)})
		if err != nil {
			return nil, fmt.Errorf("failed to encode frame request: %w", err)
		}
		body, contentType = bytes.NewReader(data), "application/json"
	default:
		buf := &bytes.Buffer{}
		writer := multipart.NewWriter(buf)
		part, err := createFilePart(writer, c.opts.FrameFieldName, frameFileName, req.Frame.ContentType)
		if err != nil {
			return nil, fmt.Errorf("failed to build frame form: %w", err)
		}
		if _, err := part.Write(req.Frame.Data); err != nil {
			return nil, fmt.Errorf("failed to build frame form: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("failed to build frame form: %w", err)
		}
		body, contentType = buf, writer.FormDataContentType()
	}

	target := c.endpoint(c.opts.FrameEndpoint, nil)
	raw, status, err := c.do(ctx, c.frameClient, req, target, body, contentType)
	if err != nil {
		return nil, err
	}
	single, err := parseSingle(raw, status)
	if err != nil {
		return nil, err
	}
	return &models.AnalysisResult{
		RequestID:  req.ID,
		Mode:       models.ModeLive,
		Single:     single,
		ReceivedAt: time.Now(),
	}, nil
}

// SubmitVideo streams the whole file and parses the response according to
// the requested mode.
func (c *Client) SubmitVideo(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error) {
	if req.Video == nil {
		return nil, fmt.Errorf("video request %s has no file", req.ID)
	}
	if req.Mode != models.ModeFrame && req.Mode != models.ModeSummary {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidMode, req.Mode)
	}

	f, err := os.Open(req.Video.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video: %w", err)
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		defer f.Close()
		part, err := createFilePart(writer, c.opts.VideoFieldName, videoFileName(req.Video), req.Video.ContentType)
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = writer.Close()
		}
		pw.CloseWithError(err)
	}()

	target := c.endpoint(c.opts.AnalysisEndpoint, url.Values{"mode": {string(req.Mode)}})
	raw, status, err := c.do(ctx, c.videoClient, req, target, pr, writer.FormDataContentType())
	// Unblocks the writer when the exchange ended before the body was consumed.
	pr.Close()
	if err != nil {
		return nil, err
	}

	result := &models.AnalysisResult{RequestID: req.ID, Mode: req.Mode, ReceivedAt: time.Now()}
	switch req.Mode {
	case models.ModeFrame:
		result.Frames, err = parseFrameList(raw, status)
	case models.ModeSummary:
		result.Summary, err = parseSummary(raw, status)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// do performs the exchange and returns the raw feedback value with the
// response status.
func (c *Client) do(ctx context.Context, hc *http.Client, areq *models.AnalysisRequest, target string, body io.Reader, contentType string) (json.RawMessage, int, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", areq.ID)

	resp, err := hc.Do(req)
	if err != nil {
		c.logger.Warn("analysis request failed", "request", areq.ID, "mode", areq.Mode, "error", err)
		return nil, 0, &models.TransportError{Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, &models.TransportError{Cause: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := errorDetail(data)
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		c.logger.Warn("analysis service returned error",
			"request", areq.ID, "status", resp.StatusCode, "detail", detail)
		return nil, resp.StatusCode, &models.ResponseError{StatusCode: resp.StatusCode, Detail: detail}
	}

	var envelope dto.AnalyzeResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, resp.StatusCode, &models.ResponseError{StatusCode: resp.StatusCode, Detail: "malformed response body: " + err.Error()}
	}
	raw := envelope.Feedback
	if isEmpty(raw) && !isEmpty(envelope.Result) {
		c.logger.Debug("analysis service used deprecated \"result\" key", "request", areq.ID)
		raw = envelope.Result
	}
	if isEmpty(raw) {
		return nil, resp.StatusCode, &models.ResponseError{StatusCode: resp.StatusCode, Detail: "response has no feedback"}
	}

	c.logger.Debug("analysis request completed",
		"request", areq.ID, "mode", areq.Mode, "status", resp.StatusCode, "elapsed", time.Since(start))
	return raw, resp.StatusCode, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.opts.BaseURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// createFilePart is multipart.Writer.CreateFormFile with an explicit
// Content-Type instead of application/octet-stream.
func createFilePart(w *multipart.Writer, field, filename, contentType string) (io.Writer, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(field), escapeQuotes(filename)))
	h.Set("Content-Type", contentType)
	return w.CreatePart(h)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

func videoFileName(v *models.VideoFile) string {
	if v.Name != "" {
		return v.Name
	}
	return filepath.Base(v.Path)
}

func isEmpty(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// errorDetail extracts the backend-provided detail from an error body.
func errorDetail(body []byte) string {
	var be dto.BackendError
	if err := json.Unmarshal(body, &be); err == nil && !isEmpty(be.Detail) {
		var s string
		if json.Unmarshal(be.Detail, &s) == nil {
			return truncate(s)
		}
		var compact bytes.Buffer
		if json.Compact(&compact, be.Detail) == nil {
			return truncate(compact.String())
		}
	}
	return truncate(strings.TrimSpace(string(body)))
}

func truncate(s string) string {
	if len(s) <= maxDetailLength {
		return s
	}
	return s[:maxDetailLength] + "..."
}
