package clienthttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sheerbytes/pftp/internal/session"
)

func baseURL(statusAddr string) string {
	u := strings.TrimRight(strings.TrimSpace(statusAddr), "/")
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "http://" + u
	}
	return u
}

func get(ctx context.Context, url string, out any) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// FetchSessions calls GET /sessions on a server's status address.
func FetchSessions(ctx context.Context, statusAddr string) ([]session.Session, error) {
	var list []session.Session
	if err := get(ctx, baseURL(statusAddr)+"/sessions", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Health calls GET /health and reports whether the server answered ok.
func Health(ctx context.Context, statusAddr string) (bool, error) {
	var body struct {
		OK bool `json:"ok"`
	}
	if err := get(ctx, baseURL(statusAddr)+"/health", &body); err != nil {
		return false, err
	}
	return body.OK, nil
}
