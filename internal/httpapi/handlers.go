package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"replaycap/internal/capture"
	"replaycap/internal/eventbus"
	"replaycap/internal/storage"
	"replaycap/pkg/logx"
)

type createRequest struct {
	Link     string `json:"link"`
	Duration int    `json:"duration"`
}

type createResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// NewCapture validates link and duration and builds a PENDING capture.
func NewCapture(link string, duration int) (*capture.Capture, error) {
	if _, err := capture.ParseMeeting(link); err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, errors.New("duration must be a positive number of seconds")
	}
	return &capture.Capture{OriginalLink: link, Duration: duration, Status: capture.StatusPending}, nil
}

// createCapture handles POST /api/v1/captures
func (s *Server) createCapture(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c, err := NewCapture(req.Link, req.Duration)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Store.Create(r.Context(), c); err != nil {
		s.log.Error("create capture", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to create capture")
		return
	}
	s.deps.Bus.Publish(eventbus.Event{Type: eventbus.CaptureCreated, Data: eventbus.CaptureData{
		CaptureID: c.ID,
		Status:    c.Status.String(),
	}})
	s.log.Info("capture created", logx.CaptureID(c.ID), logx.Int("duration", c.Duration))
	writeJSON(w, http.StatusCreated, createResponse{ID: c.ID, Status: c.Status.String()})
}

// getCapture handles GET /api/v1/captures/{id}
func (s *Server) getCapture(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	c, err := s.deps.Store.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "capture not found")
		return
	}
	if err != nil {
		s.log.Error("get capture", logx.CaptureID(id), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to load capture")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// listCaptures handles GET /api/v1/captures?limit=N
func (s *Server) listCaptures(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	list, err := s.deps.Store.List(r.Context(), limit)
	if err != nil {
		s.log.Error("list captures", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to list captures")
		return
	}
	if list == nil {
		list = []*capture.Capture{}
	}
	writeJSON(w, http.StatusOK, list)
}

// recordings handles GET /api/v1/recordings
func (s *Server) recordings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Active())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.deps.Scheduler != nil {
		resp["scheduler"] = s.deps.Scheduler.Snapshot()
	}
	if s.deps.Supervisor != nil {
		resp["goroutines"] = s.deps.Supervisor.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

// events streams lifecycle events as server-sent events until the client
// goes away.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ch, unsub := s.deps.Bus.Subscribe(64)
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, b); err != nil {
				return
			}
			fl.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
