package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxResponseBodyBytes  = 1 << 20 // 1 MiB
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// EndpointError describes a non-2xx response from a provider endpoint.
type EndpointError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *EndpointError) Error() string {
	if e == nil {
		return "providers: endpoint error"
	}
	return fmt.Sprintf("providers: endpoint error (%d): %s", e.StatusCode, e.describe())
}

// Retryable reports whether the same request may succeed later.
func (e *EndpointError) Retryable() bool {
	if e == nil {
		return false
	}
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

func (e *EndpointError) describe() string {
	if strings.TrimSpace(e.Description) != "" {
		return strings.TrimSpace(e.Description)
	}
	if strings.TrimSpace(e.Code) != "" {
		return strings.TrimSpace(e.Code)
	}
	return "unknown error"
}

// IsRetryable treats transport failures and retryable endpoint errors alike.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var endpointErr *EndpointError
	if errors.As(err, &endpointErr) {
		return endpointErr.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}

// JSONClient sends JSON requests to a provider and bounds each call with a
// timeout and a response size limit.
type JSONClient struct {
	httpClient HTTPDoer
	timeout    time.Duration
}

func NewJSONClient(httpClient HTTPDoer, timeout time.Duration) *JSONClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &JSONClient{
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// Do sends payload (if any) as JSON and decodes a 2xx body into out (if any).
func (c *JSONClient) Do(
	ctx context.Context,
	method string,
	endpoint string,
	headers http.Header,
	payload any,
	out any,
) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("providers: http client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(endpoint) == "" {
		return fmt.Errorf("providers: endpoint url is required")
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("providers: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, endpoint, body)
	if err != nil {
		return err
	}
	for key, values := range headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("providers: request failed: %w", err)
	}
	defer response.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes+1))
	if readErr != nil {
		return fmt.Errorf("providers: read response: %w", readErr)
	}
	if int64(len(raw)) > maxResponseBodyBytes {
		return fmt.Errorf("providers: response exceeds %d bytes", maxResponseBodyBytes)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return parseEndpointError(response.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("providers: decode response: %w", err)
	}
	return nil
}

// parseEndpointError reads the RFC 6749 error pair as well as the
// `errors[]` and `type`/`message` shapes some providers return instead.
func parseEndpointError(status int, body []byte) *EndpointError {
	out := &EndpointError{StatusCode: status}
	if !gjson.ValidBytes(body) {
		out.Description = strings.TrimSpace(string(body))
		return out
	}
	root := gjson.ParseBytes(body)
	out.Code = firstString(root, "error", "errors.0.code", "type")
	out.Description = firstString(root, "error_description", "errors.0.detail", "message")
	return out
}

func firstString(root gjson.Result, paths ...string) string {
	for _, path := range paths {
		value := root.Get(path)
		if value.Type == gjson.String && strings.TrimSpace(value.String()) != "" {
			return strings.TrimSpace(value.String())
		}
	}
	return ""
}
