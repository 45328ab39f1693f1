package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/warp/food-ledger/events"
	"github.com/warp/food-ledger/ledger"
)

// Events opens the host's TransactionAdded stream. The returned channel is
// closed when ctx is done or the stream ends. Malformed events are skipped.
func (c *Client) Events(ctx context.Context) (<-chan ledger.TransactionAdded, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/events", nil), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long-lived; the request timeout of c.http must not apply.
	streamer := &http.Client{Transport: c.http.Transport}
	resp, err := streamer.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, ledger.Unavailable(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, responseError(resp, false)
	}

	out := make(chan ledger.TransactionAdded, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data:")
			if !ok {
				continue
			}
			var msg events.Message
			if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &msg); err != nil {
				continue
			}
			ev, err := msg.Event()
			if err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
