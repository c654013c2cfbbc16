// Package httpapi implements the Transport and Fetcher contracts over
// the remote weight-registration service's JSON API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	weightsync "github.com/carnedata/weightsync"
	syncerrors "github.com/carnedata/weightsync/errors"
	"github.com/carnedata/weightsync/logging"
	"github.com/carnedata/weightsync/model"
)

const component = syncerrors.Component("transport/httpapi")

var (
	_ weightsync.Transport = (*Client)(nil)
	_ weightsync.Fetcher   = (*Client)(nil)
)

// maxErrorBodyBytes bounds how much of an error response body is read
// back into error messages.
const maxErrorBodyBytes = 8 << 10

// Client talks to the remote weight-registration service. It implements
// the Transport and Fetcher contracts: one Transmit call is one attempt,
// retry policy belongs to the orchestrator.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	logger  *logging.Logger
}

// ClientOption configures a Client using the functional options pattern.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(cl *http.Client) ClientOption {
	return func(c *Client) { c.http = cl }
}

// WithToken sets the bearer token attached to every request.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger overrides the default component logger.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client for the service at baseURL, e.g.
// "https://registro.example.com". A 30s request timeout bounds every
// attempt; a timed-out attempt surfaces as a network failure.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.WithComponent(component)
	}
	return c
}

// BaseURL returns the base URL for the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Transmit sends one pending operation to the remote service. The
// payload was schema-checked at enqueue time, so it is routed on the
// operation type alone.
func (c *Client) Transmit(ctx context.Context, op model.PendingOperation) error {
	c.logger.DebugContext(ctx, "transmitting operation",
		slog.String("operation_id", op.ID),
		slog.String("operation_type", string(op.Type)),
		slog.String("entity_id", op.EntityID),
	)

	switch op.Type {
	case model.OpCreateRegistration:
		return c.sendJSON(ctx, http.MethodPost, "/api/v1/registrations", op.Payload)
	case model.OpUploadPhoto:
		return c.uploadPhoto(ctx, op)
	case model.OpUpdateUser:
		var p model.UserPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return syncerrors.E(syncerrors.OpTransmit, component, syncerrors.KindInvalidPayload,
				fmt.Errorf("malformed update_user payload: %w", err))
		}
		return c.sendJSON(ctx, http.MethodPut, "/api/v1/users/"+p.UserID, op.Payload)
	default:
		return syncerrors.E(syncerrors.OpTransmit, component, syncerrors.KindInvalidPayload,
			"unknown operation type "+string(op.Type))
	}
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return syncerrors.E(syncerrors.OpTransmit, component, syncerrors.KindUnknown,
			fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return syncerrors.E(syncerrors.OpTransmit, component, syncerrors.KindNetwork,
			fmt.Errorf("network error: %w", err))
	}
	defer resp.Body.Close()

	return c.checkStatus(ctx, resp, path)
}

// uploadPhoto reads the locally captured image and sends it as a
// multipart form to the registration's photo endpoint.
func (c *Client) uploadPhoto(ctx context.Context, op model.PendingOperation) error {
	var p model.PhotoPayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return syncerrors.E(syncerrors.OpTransmit, component, syncerrors.KindInvalidPayload,
			fmt.Errorf("malformed upload_photo payload: %w", err))
	}

	file, err := os.Open(p.LocalPhotoPath)
	if err != nil {
		// The captured file is gone; retrying cannot bring it back.
		return syncerrors.E(syncerrors.OpTransmit, component, syncerrors.KindValidation,
			fmt.Errorf("local photo unavailable: %w", err))
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("photo", filepath.Base(p.LocalPhotoPath))
	if err != nil {
		return syncerrors.E(syncerrors.OpTransmit, component, syncerrors.KindUnknown,
			fmt.Errorf("failed to build multipart body: %w", err))
	}
	if _, err := io.Copy(part, file); err != nil {
		return syncerrors.E(syncerrors.OpTransmit, component, syncerrors.KindUnknown,
			fmt.Errorf("failed to read local photo: %w", err))
	}
	if err := mw.Close(); err != nil {
		return syncerrors.E(syncerrors.OpTransmit, component, syncerrors.KindUnknown,
			fmt.Errorf("failed to finalize multipart body: %w", err))
	}

	path := "/api/v1/registrations/" + p.RegistrationID + "/photo"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return syncerrors.E(syncerrors.OpTransmit, component, syncerrors.KindUnknown,
			fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return syncerrors.E(syncerrors.OpTransmit, component, syncerrors.KindNetwork,
			fmt.Errorf("network error: %w", err))
	}
	defer resp.Body.Close()

	return c.checkStatus(ctx, resp, path)
}

// checkStatus converts a non-2xx response into a kinded error: 4xx means
// the payload has to change, 5xx may succeed on retry.
func (c *Client) checkStatus(ctx context.Context, resp *http.Response, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	c.logger.WarnContext(ctx, "remote service rejected request",
		slog.Int("status_code", resp.StatusCode),
		slog.String("path", path),
		slog.String("response_body", string(body)),
	)
	return syncerrors.E(syncerrors.OpTransmit, component,
		syncerrors.KindFromHTTPStatus(resp.StatusCode),
		fmt.Errorf("server returned status %d: %s", resp.StatusCode, body))
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// FetchRegistration reads the server copy of a registration.
func (c *Client) FetchRegistration(ctx context.Context, id string) (model.Registration, error) {
	var r model.Registration
	if err := c.getJSON(ctx, "/api/v1/registrations/"+id, &r); err != nil {
		return model.Registration{}, err
	}
	return r, nil
}

// FetchUser reads the server copy of a user.
func (c *Client) FetchUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	if err := c.getJSON(ctx, "/api/v1/users/"+id, &u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return syncerrors.E(syncerrors.OpLoad, component, syncerrors.KindUnknown,
			fmt.Errorf("failed to create request: %w", err))
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return syncerrors.E(syncerrors.OpLoad, component, syncerrors.KindNetwork,
			fmt.Errorf("network error: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return syncerrors.E(syncerrors.OpLoad, component,
			syncerrors.KindFromHTTPStatus(resp.StatusCode),
			fmt.Errorf("server returned status %d: %s", resp.StatusCode, body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return syncerrors.E(syncerrors.OpLoad, component, syncerrors.KindUnknown,
			fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// Close releases idle connections held by the underlying HTTP client.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
