// Package httpds adapts a generic HTTP/REST backend to the Tool Registry's
// datasource contract (spec §6). It is implemented directly on net/http:
// the operation is a thin request/response passthrough with no protocol
// logic worth a third-party client (see DESIGN.md for why this component
// stays on the standard library while sqlds and blobstore do not).
package httpds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentcore/runtime/internal/tools"
)

// Datasource calls a single HTTP backend under one tool name, dispatching
// by the "method" + "path" the model supplies.
type Datasource struct {
	client  *http.Client
	baseURL string
	name    string
	token   string
}

// Options configures a Datasource.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// New builds an httpds.Datasource named name.
func New(name string, opts Options) *Datasource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Datasource{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		name:    name,
		token:   opts.Token,
	}
}

// Register adds this datasource's single "request" action to registry.
func (d *Datasource) Register(registry *tools.Registry) error {
	return registry.RegisterAction(d.name, "request",
		fmt.Sprintf("Issue an HTTP request against the %s backend", d.name),
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"method": map[string]any{"type": "string", "enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE"}},
				"path":   map[string]any{"type": "string"},
				"body":   map[string]any{"type": "object"},
			},
			"required": []string{"method", "path"},
		},
		false,
		d.request,
	)
}

func (d *Datasource) request(ctx context.Context, args map[string]any) (any, error) {
	method, _ := args["method"].(string)
	path, _ := args["path"].(string)
	if method == "" || path == "" {
		return nil, fmt.Errorf("httpds: method and path are required")
	}

	var body io.Reader
	if raw, ok := args["body"]; ok && raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("httpds: encode body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("httpds: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpds: do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpds: read response: %w", err)
	}

	result := map[string]any{"status": resp.StatusCode}
	var decoded any
	if len(data) > 0 && json.Unmarshal(data, &decoded) == nil {
		result["body"] = decoded
	} else {
		result["body"] = string(data)
	}
	return result, nil
}
