package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// VersionInfo is the subset of Chrome's /json/version reply we use.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// ProbeVersion asks the DevTools endpoint at hostPort ("127.0.0.1:9222")
// for its version. A browser is ready once this returns a debugger url.
func ProbeVersion(ctx context.Context, client *http.Client, hostPort string) (*VersionInfo, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+hostPort+"/json/version", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: /json/version returned %s", ErrNotReady, resp.Status)
	}
	var v VersionInfo
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: decode /json/version: %w", ErrNotReady, err)
	}
	if v.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("%w: no webSocketDebuggerUrl", ErrNotReady)
	}
	return &v, nil
}
