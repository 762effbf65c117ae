package syncq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Endpoint accepts one operation for remote delivery. The queue does not
// depend on its transport.
type Endpoint interface {
	Deliver(ctx context.Context, operation string, payload json.RawMessage) error
}

// operationPaths maps operation tags to REST paths on the remote service.
var operationPaths = map[string]string{
	"create_batch":      "/batches",
	"create_dispatch":   "/dispatches",
	"approve_dispatch":  "/dispatches/approve",
	"confirm_departure": "/dispatches/depart",
	"create_receipt":    "/receipts",
	"create_incident":   "/incidents",
	"upload_photo":      "/photos",
}

// HTTPEndpoint delivers operations to a REST backend.
type HTTPEndpoint struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEndpoint builds an endpoint for the given API base URL.
func NewHTTPEndpoint(baseURL string, client *http.Client) *HTTPEndpoint {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPEndpoint{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Deliver posts the payload to the path mapped from the operation tag.
// Any transport error or non-2xx response is a DeliveryError.
func (e *HTTPEndpoint) Deliver(ctx context.Context, operation string, payload json.RawMessage) error {
	path, ok := operationPaths[operation]
	if !ok {
		path = "/sync"
	}
	method := methodFor(operation)

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("syncq: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return &DeliveryError{Operation: operation, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &DeliveryError{Operation: operation, StatusCode: resp.StatusCode, Message: string(body)}
	}
	return nil
}

func methodFor(operation string) string {
	switch {
	case strings.HasPrefix(operation, "update_"):
		return http.MethodPut
	case strings.HasPrefix(operation, "delete_"):
		return http.MethodDelete
	default:
		return http.MethodPost
	}
}
