package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/logs"
	"github.com/GarthBrooksFan/experiment-tracker/internal/ws"
)

const (
	sseEventLog      = "log"
	sseRetry         = 3 * time.Second
	wsPingInterval   = 30 * time.Second
	wsPongWait       = 60 * time.Second
	wsCloseNotFound  = 4404
	wsReadLimitBytes = 512
)

func (r *Router) handleExperimentLogs(w http.ResponseWriter, req *http.Request, experimentID string) {
	switch req.Method {
	case http.MethodGet:
		q := req.URL.Query()
		verr := &domain.ValidationError{}
		filter := repository.LogFilter{
			ExperimentID: experimentID,
			Level:        domain.LogLevel(strings.TrimSpace(q.Get("level"))),
			Search:       strings.TrimSpace(q.Get("search")),
			Desc:         parseSortOrder(q, verr, true),
			Page:         r.parsePage(q, verr, defaultLogPageSize),
		}
		if err := verr.Err(); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		entries, total, err := r.logs.ListForExperiment(req.Context(), filter)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"logs":       newLogResponses(entries),
			"pagination": newPagination(filter.Page, total),
		})
	case http.MethodPost:
		var payload struct {
			Level    string          `json:"level"`
			Message  string          `json:"message"`
			Metadata json.RawMessage `json:"metadata"`
		}
		if !decodeJSON(w, req, &payload) {
			return
		}
		entry, err := r.logs.Append(req.Context(), experimentID, logs.AppendInput{
			Level:    payload.Level,
			Message:  payload.Message,
			Metadata: payload.Metadata,
		})
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, newLogResponse(*entry))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleLogs(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	q := req.URL.Query()
	verr := &domain.ValidationError{}
	filter := repository.LogFilter{
		ExperimentID: strings.TrimSpace(q.Get("experimentId")),
		Level:        domain.LogLevel(strings.TrimSpace(q.Get("level"))),
		Search:       strings.TrimSpace(q.Get("search")),
		Desc:         parseSortOrder(q, verr, true),
		Page:         r.parsePage(q, verr, defaultLogPageSize),
	}
	if err := verr.Err(); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	page, err := r.logs.List(req.Context(), filter)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	counts := make(map[string]int, len(page.LevelCounts))
	for level, n := range page.LevelCounts {
		counts[string(level)] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":       newGlobalLogResponses(page.Logs),
		"pagination": newPagination(filter.Page, page.Total),
		"summary": map[string]any{
			"totalLogs":   page.Total,
			"levelCounts": counts,
		},
	})
}

// handleExperimentLogStream follows an experiment's log as Server-Sent Events
// until the client disconnects.
func (r *Router) handleExperimentLogStream(w http.ResponseWriter, req *http.Request, experimentID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		r.logger.Error("streaming unsupported by response writer", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")

	client := ws.NewSSEClient(w, flusher, sseEventLog, r.logger)
	detach, err := r.logs.Subscribe(req.Context(), experimentID, client)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	defer func() {
		detach()
		client.Close()
	}()
	if err := client.Open(sseRetry); err != nil {
		return
	}

	ticker := time.NewTicker(r.streamHeartbeat)
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

func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	if _, ok := authInfoFromContext(req.Context()); !ok {
		r.logger.Error("auth context missing for logs websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	experimentID := strings.TrimSpace(req.URL.Query().Get("experimentId"))
	if experimentID == "" {
		writeValidation(w, &domain.ValidationError{Fields: []domain.FieldError{{Field: "experimentId", Message: "is required"}}})
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	detach, err := r.logs.Subscribe(req.Context(), experimentID, client)
	if err != nil {
		reason := "internal error"
		code := websocket.CloseInternalServerErr
		if errors.Is(err, repository.ErrNotFound) {
			reason, code = "experiment not found", wsCloseNotFound
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	conn.SetReadLimit(wsReadLimitBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := client.Ping(); err != nil {
					return
				}
			}
		}
	}()
	go func() {
		defer func() {
			close(done)
			detach()
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
