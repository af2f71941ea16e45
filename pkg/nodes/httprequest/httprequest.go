// Package httprequest provides the node that calls an external HTTP endpoint.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
)

const (
	defaultTimeout  = 30 * time.Second
	maxTimeout      = 300 * time.Second
	maxResponseBody = 5 << 20
)

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Node performs one HTTP request per execution. Retries happen at the job
// level: timeouts, network errors, 429 and 5xx are retryable, other 4xx
// responses are terminal.
type Node struct {
	client *http.Client
}

// New creates the executor; a nil client uses a default one.
func New(client *http.Client) *Node {
	if client == nil {
		client = &http.Client{}
	}

	return &Node{client: client}
}

func (n *Node) Kind() models.NodeKind { return models.NodeKindHTTPRequest }
func (n *Node) Name() string          { return "HTTP Request" }

func (n *Node) Description() string {
	return "Performs an HTTP request and exposes the status, headers and parsed body"
}

// RequiredInputs makes an unresolved URL a terminal failure.
func (n *Node) RequiredInputs() []string {
	return []string{"url"}
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "HTTP URL to request; supports {{ }} references",
				"examples": []string{
					"https://api.example.com/users",
					"https://{{variables.api_host}}/webhook/{{trigger.id}}",
				},
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method",
				"default":     "GET",
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "HTTP headers; values support references",
			},
			"body": map[string]any{
				"type":        []string{"string", "object", "array"},
				"description": "Request body; objects are sent as JSON",
			},
			"timeout": nodes.Templated("number", map[string]any{
				"description": "Request timeout in seconds",
				"default":     30,
			}),
		},
		"required": []string{"url"},
	}
}

func (n *Node) Validate(config map[string]any) error {
	err := nodes.ValidateSchema(n.Schema(), config)
	if err != nil {
		return err
	}

	method := strings.ToUpper(nodes.String(config, "method", http.MethodGet))
	if !validMethods[method] {
		return nodes.InvalidConfig("invalid HTTP method: %s", method)
	}

	if timeout, ok := config["timeout"].(float64); ok {
		if timeout < 1 || time.Duration(timeout)*time.Second > maxTimeout {
			return nodes.InvalidConfig("timeout must be between 1 and %d seconds", int(maxTimeout.Seconds()))
		}
	}

	return nil
}

func (n *Node) Execute(ctx context.Context, in nodes.Input) (nodes.Output, error) {
	url := nodes.String(in.Config, "url", "")
	method := strings.ToUpper(nodes.String(in.Config, "method", http.MethodGet))

	if !validMethods[method] {
		return nodes.Output{}, nodes.InvalidConfig("invalid HTTP method: %s", method)
	}

	seconds, err := nodes.Float(in.Config, "timeout", defaultTimeout.Seconds())
	if err != nil {
		return nodes.Output{}, err
	}

	timeout := time.Duration(seconds * float64(time.Second))
	if timeout <= 0 || timeout > maxTimeout {
		timeout = defaultTimeout
	}

	body, contentType, err := encodeBody(in.Config["body"])
	if err != nil {
		return nodes.Output{}, nodes.Terminal(err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nodes.Output{}, nodes.Terminal(fmt.Errorf("failed to create request: %w", err))
	}

	for key, value := range nodes.Map(in.Config, "headers") {
		req.Header.Set(key, fmt.Sprint(value))
	}

	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	// idempotency hint for receivers that dedupe at-least-once deliveries
	if in.Meta.ExecutionID != "" && req.Header.Get("Idempotency-Key") == "" && in.Node != nil {
		req.Header.Set("Idempotency-Key", in.Meta.ExecutionID+":"+in.Node.ID)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nodes.Output{}, nodes.Retryable(fmt.Errorf("request failed: %w", err))
	}

	defer func() {
		if err := resp.Body.Close(); err != nil && in.Logger != nil {
			in.Logger.WarnContext(ctx, "failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nodes.Output{}, nodes.Retryable(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: truncate(string(respBody), 512)}

		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return nodes.Output{}, nodes.Retryable(httpErr)
		}

		return nodes.Output{}, nodes.Terminal(httpErr)
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	result := map[string]any{
		"status_code": float64(resp.StatusCode),
		"headers":     headers,
		"body":        string(respBody),
	}

	var jsonBody any
	if err := json.Unmarshal(respBody, &jsonBody); err == nil {
		result["json"] = jsonBody
	}

	return nodes.Output{Data: result}, nil
}

func encodeBody(body any) (string, string, error) {
	switch b := body.(type) {
	case nil:
		return "", "", nil
	case string:
		return b, "application/json", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return "", "", errors.New("body is not JSON serializable")
		}

		return string(data), "application/json", nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
