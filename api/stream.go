package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/warp/food-ledger/events"
)

// streamKeepAlive is how often an idle event stream sends a comment line so
// intermediaries do not close it.
const streamKeepAlive = 25 * time.Second

// StreamEvents handles GET /api/events as a server-sent event stream. Each
// TransactionAdded is one "transaction" event whose data is an
// events.Message. A slow reader misses events and should refresh.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		writeError(w, http.StatusNotFound, "event stream disabled", nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", nil)
		return
	}

	sub := h.Hub.Subscribe(0)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.log.Debug("event stream opened", slog.String("subscription", sub.ID.String()))

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			data, err := json.Marshal(events.NewMessage(ev))
			if err != nil {
				h.log.Error("encode event", slog.Any("err", err))
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: transaction\ndata: %s\n\n", ev.Position, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
