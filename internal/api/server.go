package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/arcus-instruments/focuslock/internal/camera"
	"github.com/arcus-instruments/focuslock/internal/device"
	"github.com/arcus-instruments/focuslock/internal/lock"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// historySize bounds the in-memory lock history used by the chart and
// plot endpoints.
const historySize = 512

// historyPoint is one remembered lock status with its arrival time.
type historyPoint struct {
	At     time.Time
	Status lock.LockStatus
}

type Server struct {
	ctrl   *lock.Controller
	loop   *camera.Loop
	poller *device.Poller

	histMu  sync.Mutex
	history []historyPoint

	subID  string
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewServer wires the HTTP surface over the running control loops. It
// subscribes to the lock feed to keep a bounded status history for the
// chart endpoints; Close releases the subscription.
func NewServer(ctrl *lock.Controller, loop *camera.Loop, poller *device.Poller) *Server {
	s := &Server{
		ctrl:   ctrl,
		loop:   loop,
		poller: poller,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	id, ch := ctrl.Events().Subscribe()
	s.subID = id
	go s.collectHistory(ch)
	return s
}

// Close stops the history collector.
func (s *Server) Close() {
	s.ctrl.Events().Unsubscribe(s.subID)
	close(s.stopCh)
	<-s.doneCh
}

func (s *Server) collectHistory(ch chan lock.LockStatus) {
	defer close(s.doneCh)
	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return
			}
			s.histMu.Lock()
			s.history = append(s.history, historyPoint{At: time.Now(), Status: st})
			if len(s.history) > historySize {
				s.history = s.history[len(s.history)-historySize:]
			}
			s.histMu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Server) historySnapshot() []historyPoint {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	out := make([]historyPoint, len(s.history))
	copy(out, s.history)
	return out
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/params", s.handleParams)
	mux.HandleFunc("/api/lock", s.setLock)
	mux.HandleFunc("/api/film/start", s.startFilm)
	mux.HandleFunc("/api/film/stop", s.stopFilm)
	mux.HandleFunc("/api/lock/events", s.lockEvents)
	mux.HandleFunc("/api/position/events", s.positionEvents)
	mux.HandleFunc("/charts/lock", s.lockChart)
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type statusResponse struct {
	Locked    bool         `json:"locked"`
	Filming   bool         `json:"filming"`
	FilmID    string       `json:"film_id,omitempty"`
	ScanState string       `json:"scan_state"`
	Position  float64      `json:"position"`
	Quality   lock.Quality `json:"quality"`

	FramesAnalyzed int64 `json:"frames_analyzed"`
	FramesDropped  int64 `json:"frames_dropped"`
	MovesExecuted  int64 `json:"moves_executed"`
	MovesCoalesced int64 `json:"moves_coalesced"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	filming, filmID := s.ctrl.Filming()
	analyzed, dropped := s.loop.Counters()
	resp := statusResponse{
		Locked:         s.ctrl.Locked(),
		Filming:        filming,
		FilmID:         filmID,
		ScanState:      s.ctrl.CurrentScanState().String(),
		Position:       s.poller.LastPosition(),
		Quality:        s.ctrl.Evaluator().Last(),
		FramesAnalyzed: analyzed,
		FramesDropped:  dropped,
		MovesExecuted:  s.ctrl.Fine().Queue().Executed.Value() + s.ctrl.Coarse().Queue().Executed.Value(),
		MovesCoalesced: s.ctrl.Fine().Queue().Superseded.Value() + s.ctrl.Coarse().Queue().Superseded.Value(),
	}
	writeJSON(w, resp)
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.ctrl.Parameters())
	case http.MethodPost:
		var p lock.Params
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid parameters: %v", err))
			return
		}
		s.ctrl.SetParameters(p)
		writeJSON(w, s.ctrl.Parameters())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) setLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Locked bool `json:"locked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	s.ctrl.SetLocked(body.Locked)
	writeJSON(w, map[string]bool{"locked": s.ctrl.Locked()})
}

func (s *Server) startFilm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := s.ctrl.StartFilm(r.Context())
	if err != nil {
		code := http.StatusInternalServerError
		if err == lock.ErrAlreadyFilming {
			code = http.StatusConflict
		}
		writeJSONError(w, code, err.Error())
		return
	}
	writeJSON(w, map[string]string{"id": id})
}

func (s *Server) stopFilm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rec, err := s.ctrl.StopFilm(r.Context())
	if err != nil {
		code := http.StatusInternalServerError
		if err == lock.ErrNotFilming {
			code = http.StatusConflict
		}
		writeJSONError(w, code, err.Error())
		return
	}
	writeJSON(w, rec)
}

// lockEvent is the SSE payload: the lock status plus the preview image
// encoded as PNG (base64 in JSON).
type lockEvent struct {
	lock.LockStatus
	PreviewPNG []byte `json:"preview_png,omitempty"`
}

func (s *Server) lockEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, ch := s.ctrl.Events().Subscribe()
	defer s.ctrl.Events().Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	w.(http.Flusher).Flush()

	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return
			}
			ev := lockEvent{LockStatus: st}
			if st.Preview != nil {
				var buf bytes.Buffer
				if err := png.Encode(&buf, st.Preview); err == nil {
					ev.PreviewPNG = buf.Bytes()
				}
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			w.(http.Flusher).Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// positionUpdate is the SSE payload for stage position consumers.
type positionUpdate struct {
	Status   string  `json:"status"`
	Position float64 `json:"position"`
}

func (s *Server) positionEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, ch := s.poller.Subscribe()
	defer s.poller.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	w.(http.Flusher).Flush()

	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(positionUpdate{
				Status:   u.Status.String(),
				Position: u.Position,
			})
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			w.(http.Flusher).Flush()
		case <-r.Context().Done():
			return
		}
	}
}
