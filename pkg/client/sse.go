package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Event is one server-sent event of a run.
type Event struct {
	Type      string          `json:"type"`
	RunID     string          `json:"run_id"`
	Status    string          `json:"status"`
	Path      string          `json:"path"`
	Message   string          `json:"message"`
	Level     string          `json:"level"`
	Timestamp int64           `json:"timestamp"`
	Raw       json.RawMessage `json:"-"`
}

// Watch streams the events of run id. The event channel is closed after the
// "done" event, when ctx is cancelled, or when the connection fails; in the
// last case the error is sent on the error channel first.
func (c *Client) Watch(ctx context.Context, id string) (<-chan Event, <-chan error) {
	events := make(chan Event, 100)
	errc := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errc)
		if err := c.stream(ctx, id, events); err != nil && ctx.Err() == nil {
			errc <- err
		}
	}()
	return events, errc
}

func (c *Client) stream(ctx context.Context, id string, events chan<- Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+runPath(id, "events"), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.applyAuth(req)

	// no timeout for SSE
	httpClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var eventType, data string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if data != "" {
				event := Event{Type: eventType, Raw: json.RawMessage(data)}
				if err := json.Unmarshal([]byte(data), &event); err != nil {
					return fmt.Errorf("decode event: %w", err)
				}
				if eventType != "" {
					event.Type = eventType
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return nil
				}
				if event.Type == "done" {
					return nil
				}
			}
			eventType, data = "", ""
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return fmt.Errorf("connection closed")
}
