package diarization

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hearing-transcripts-go/internal/align"
	"hearing-transcripts-go/internal/retry"
)

// response also carries a "duration" field from the service. It is not
// decoded: alignment measures the timeline as the extent of the turns.
type response struct {
	Turns []align.Turn `json:"turns"`
	Error string       `json:"error,omitempty"`
}

// HTTPEngine posts audio to a diarization service at {url}/diarize and
// reads back speaker turns.
type HTTPEngine struct {
	url   string
	token string
	c     *http.Client
}

func NewHTTPEngine(url, token string, timeout time.Duration) *HTTPEngine {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPEngine{
		url:   strings.TrimRight(url, "/"),
		token: token,
		c:     &http.Client{Timeout: timeout},
	}
}

func (h *HTTPEngine) Diarize(ctx context.Context, path string) ([]align.Turn, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("audio segment: %w", err))
	}
	defer fd.Close()

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err = io.Copy(fw, fd); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url+"/diarize", &b)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("diarize %s: %s", resp.Status, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, err
		}
		return nil, retry.Permanent(err)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, retry.Permanent(fmt.Errorf("diarize decode: %w", err))
	}
	if out.Error != "" {
		return nil, retry.Permanent(errors.New("diarize: " + out.Error))
	}
	return out.Turns, nil
}
