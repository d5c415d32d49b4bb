package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const eventKeepAlive = 25 * time.Second

// handleEvents streams order events for one restaurant as server-sent events
// until the client goes away.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := a.restaurant(w, r)
	if !ok {
		return
	}
	if a.events == nil {
		writeError(w, r, http.StatusServiceUnavailable, errors.New("event stream disabled"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	events, unsubscribe := a.events.Subscribe(restaurant.ID)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	sendSSE(w, flusher, "ready", map[string]any{"restaurant_id": restaurant.ID})

	ticker := time.NewTicker(eventKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			sendSSE(w, flusher, event.Type, event)
		}
	}
}

func sendSSE(w http.ResponseWriter, f http.Flusher, event string, data any) {
	b, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	f.Flush()
}
