package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/hysmio/deployments-dashboard/internal/domain"
	"github.com/hysmio/deployments-dashboard/internal/ws"
)

// streamTopic resolves the hub topic for a stream request. The wildcard
// subscribes to every instance.
func (r *Router) streamTopic(w http.ResponseWriter, req *http.Request) (string, bool) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return "", false
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "live feed disabled")
		return "", false
	}
	instanceID := strings.TrimSpace(req.URL.Query().Get("instanceId"))
	if instanceID == "" {
		r.writeServiceError(w, req, domain.Invalid("instanceId", "required"))
		return "", false
	}
	if instanceID == ws.AllInstances {
		return instanceID, true
	}
	if _, err := r.catalog.GetInstance(req.Context(), instanceID); err != nil {
		r.writeServiceError(w, req, err)
		return "", false
	}
	return instanceID, true
}

func (r *Router) handleEventStream(w http.ResponseWriter, req *http.Request) {
	topic, ok := r.streamTopic(w, req)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, "deployment_event", r.logger)
	r.hub.Register(topic, client)
	defer func() {
		client.Close()
		r.hub.Unregister(topic, client)
	}()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	topic, ok := r.streamTopic(w, req)
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err, "instance_id", topic)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(topic, client)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		client.WaitClosed()
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	defer func() {
		r.hub.Unregister(topic, client)
		client.Close()
	}()
	for {
		select {
		case <-closed:
			return
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Ping(); err != nil {
				return
			}
		}
	}
}
