// Package invoker dispatches a downstream function call on behalf of the
// gatekeeper, forwarding the caller's credential.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/oggyb/crewsnow/internal/auth"
	"github.com/oggyb/crewsnow/internal/config"
)

const maxResponseBytes = 1 << 20

var targetPattern = regexp.MustCompile(`^[a-z0-9-]{1,64}$`)

// ValidTarget reports whether name is an acceptable function name.
func ValidTarget(name string) bool {
	return targetPattern.MatchString(name)
}

// HTTPInvoker POSTs to <baseURL>/functions/v1/<target>.
type HTTPInvoker struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// New creates an invoker. A nil client means http.DefaultClient.
func New(baseURL string, timeout time.Duration, client *http.Client) *HTTPInvoker {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPInvoker{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  client,
	}
}

// NewFromConfig builds an invoker from the Functions section.
func NewFromConfig(cfg *config.Config) *HTTPInvoker {
	return New(cfg.Functions.BaseURL, cfg.Functions.DispatchTimeout, nil)
}

// Invoke calls target once with payload and the caller's bearer token and
// returns the JSON response body.
//
// Behavior:
//   - The call is bounded by the dispatch timeout on top of ctx.
//   - A non-empty grant is sent in auth.GrantHeader.
//   - Non-2xx replies, non-JSON bodies and transport errors are errors.
//   - An empty payload is sent as {}.
func (i *HTTPInvoker) Invoke(ctx context.Context, target, token, grant string, payload json.RawMessage) (json.RawMessage, error) {
	if !ValidTarget(target) {
		return nil, fmt.Errorf("invalid target function %q", target)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = json.RawMessage(`{}`)
	}

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	url := i.baseURL + "/functions/v1/" + target
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if grant != "" {
		req.Header.Set(auth.GrantHeader, grant)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned HTTP %d", target, resp.StatusCode)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%s returned invalid JSON", target)
	}
	return json.RawMessage(body), nil
}
