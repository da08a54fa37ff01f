package mladapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPath       = "/parse_video"
	customPromptPath  = "/parse_video_custom"
	maxResponseBytes  = 8 << 20
	errorBodyPreview  = 256
	defaultReqTimeout = 10 * time.Second
)

// Request describes one classification call.
type Request struct {
	TaskID        int64
	VideoFilename string
	Prompt        *string
	// Extra keys are merged into the JSON body; reserved keys are not overridden.
	Extra map[string]any
}

// Classifier is the surface the task runner depends on.
type Classifier interface {
	Classify(ctx context.Context, req Request) Result
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client for baseURL. An empty baseURL is reported by
// Configured rather than rejected, so callers can fail tasks explicitly.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultReqTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether an ML endpoint is set.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// Classify posts the request and never returns a Go error: every failure is
// an Err result.
func (c *Client) Classify(ctx context.Context, req Request) Result {
	if !c.Configured() {
		return Err(KindRequest, "ml api url is not configured")
	}

	body, path := buildPayload(req)
	raw, err := json.Marshal(body)
	if err != nil {
		return Err(KindRequest, fmt.Sprintf("encode ml request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return Err(KindRequest, fmt.Sprintf("build ml request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return Err(KindTimeout, fmt.Sprintf("ml service timed out: %v", err))
		}
		return Err(KindNetwork, fmt.Sprintf("ml service unreachable: %v", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return Err(KindTimeout, fmt.Sprintf("ml service timed out: %v", err))
		}
		return Err(KindNetwork, fmt.Sprintf("read ml response: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Err(KindHTTPStatus, fmt.Sprintf("ml service returned %d: %s", resp.StatusCode, preview(data)))
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return Err(KindDecode, "ml service returned invalid json")
	}
	return Ok(json.RawMessage(trimmed))
}

// buildPayload chooses the endpoint: a non-blank prompt goes to the custom
// route and is sent trimmed.
func buildPayload(req Request) (map[string]any, string) {
	body := make(map[string]any, len(req.Extra)+3)
	for k, v := range req.Extra {
		body[k] = v
	}
	body["task_id"] = strconv.FormatInt(req.TaskID, 10)
	body["video_filename"] = req.VideoFilename

	path := defaultPath
	if req.Prompt != nil {
		if prompt := strings.TrimSpace(*req.Prompt); prompt != "" {
			body["prompt"] = prompt
			path = customPromptPath
		}
	}
	if path == defaultPath {
		delete(body, "prompt")
	}
	return body, path
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func preview(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) <= errorBodyPreview {
		return s
	}
	return s[:errorBodyPreview] + "...(truncated)"
}
