package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"ristoro.dev/internal/auth"
)

const streamKeepAlive = 20 * time.Second

// Stream serves order events as Server-Sent Events to kitchen and back
// office clients. Requires orders:write.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if err := auth.RequirePermission(claimsOf(r), auth.PermOrdersWrite); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if a.deps.Events == nil {
		writeErrorCode(w, r, http.StatusServiceUnavailable, "streaming_disabled", "streaming disabled")
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.deps.Events.Subscribe(ctx)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: " + event.Type + "\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
