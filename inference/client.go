// Package inference talks to the hosted object-detection model.
package inference

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/aerie/mission-core/ingestion"
	"github.com/aerie/mission-core/models"
)

// Provider runs the detection model on one image.
type Provider interface {
	Infer(ctx context.Context, imageRef string) (models.RawResponse, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, imageRef string) (models.RawResponse, error)

func (f ProviderFunc) Infer(ctx context.Context, imageRef string) (models.RawResponse, error) {
	return f(ctx, imageRef)
}

// StatusError is returned when the model endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("inference service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("inference service returned status %d: %s", e.StatusCode, e.Body)
}

// Client calls a Roboflow-style hosted model:
// POST {baseURL}/{modelID}?api_key=... with the base64 image as body, or
// with ?image=<url> for remote images.
type Client struct {
	baseURL string
	apiKey  string
	modelID string
	client  *http.Client
}

// NewClient creates a new hosted model client
func NewClient(baseURL, apiKey, modelID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		modelID: strings.Trim(modelID, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

// Infer sends the image to the model and returns the decoded response.
// imageRef is a local file path or an http(s) URL.
func (c *Client) Infer(ctx context.Context, imageRef string) (models.RawResponse, error) {
	remote := isRemote(imageRef)

	endpoint, err := c.endpoint(imageRef, remote)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if !remote {
		data, err := os.ReadFile(filepath.Clean(imageRef))
		if err != nil {
			return nil, errors.Wrapf(err, "read image %s", imageRef)
		}
		body = strings.NewReader(base64.StdEncoding.EncodeToString(data))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, errors.Wrap(err, "create inference request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send inference request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	raw, err := ingestion.ReadResponse(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "decode inference response")
	}
	return raw, nil
}

func (c *Client) endpoint(imageRef string, remote bool) (string, error) {
	u, err := url.Parse(c.baseURL + "/" + c.modelID)
	if err != nil {
		return "", errors.Wrapf(err, "invalid inference url %q", c.baseURL)
	}
	q := u.Query()
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}
	if remote {
		q.Set("image", imageRef)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isRemote(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
