// Package caption calls the external X-ray captioning model.
package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/mediscan/mediscan-server/cmd/apperr"
	"github.com/mediscan/mediscan-server/service/metrics"
)

// Captioner turns an image into a caption.
type Captioner interface {
	Caption(ctx context.Context, filename string, image io.Reader) (string, error)
}

type Client struct {
	url     string
	http    *http.Client
	metrics *metrics.Metrics
}

func NewClient(url string, timeout time.Duration, m *metrics.Metrics) *Client {
	return &Client{url: url, http: &http.Client{Timeout: timeout}, metrics: m}
}

type captionResponse struct {
	Caption string `json:"caption"`
}

// Caption posts the image as the multipart field "file" and returns the
// "caption" of the JSON answer. Any failure is a CollaboratorError.
func (c *Client) Caption(ctx context.Context, filename string, image io.Reader) (string, error) {
	caption, err := c.caption(ctx, filename, image)
	if err != nil {
		c.metrics.ObserveCaption("failed")
		return "", apperr.Collaborator("caption generation failed", err)
	}
	c.metrics.ObserveCaption("ok")
	return caption, nil
}

func (c *Client) caption(ctx context.Context, filename string, image io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, image); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("caption service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out captionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode caption response: %w", err)
	}
	if strings.TrimSpace(out.Caption) == "" {
		return "", fmt.Errorf("caption service returned an empty caption")
	}
	return out.Caption, nil
}
