package dashboard

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/flightdeck/skyboard/internal/analyst"
	"github.com/flightdeck/skyboard/internal/conversation"
	"github.com/flightdeck/skyboard/internal/logger"
	"github.com/flightdeck/skyboard/internal/warehouse"
)

// Server exposes the dashboard's HTTP surface: the analyst conversation
// endpoints and the filtered-read/export endpoints. Each caller-supplied
// session id owns an independent conversation; sessions share nothing.
type Server struct {
	store        *Store
	querier      warehouse.Querier
	analyst      analyst.Client
	semanticView string

	mu       sync.Mutex
	sessions map[string]*conversation.Session
}

// NewServer wires the HTTP surface.
func NewServer(store *Store, querier warehouse.Querier, client analyst.Client, semanticView string) *Server {
	return &Server{
		store:        store,
		querier:      querier,
		analyst:      client,
		semanticView: semanticView,
		sessions:     make(map[string]*conversation.Session),
	}
}

// Mux returns the route table.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/analyst/message", s.handleAnalystMessage)
	mux.HandleFunc("POST /api/analyst/clear", s.handleAnalystClear)
	mux.HandleFunc("GET /api/analyst/history", s.handleAnalystHistory)
	mux.HandleFunc("GET /api/aircraft", s.handleAircraft)
	mux.HandleFunc("GET /api/aircraft/types", s.handleAircraftTypes)
	mux.HandleFunc("GET /api/aircraft/categories", s.handleAircraftCategories)
	mux.HandleFunc("GET /api/aircraft/export", s.handleExport)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	return mux
}

// maxSessions bounds the session registry; creating a session past the cap
// evicts an idle one first.
const maxSessions = 128

// session returns the conversation for the caller's X-Session-Id, creating
// it on first use. A missing header maps to a shared default session, which
// suits the single-user local setup.
func (s *Server) session(r *http.Request) *conversation.Session {
	id := r.Header.Get("X-Session-Id")
	if id == "" {
		id = "default"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		if len(s.sessions) >= maxSessions {
			s.evictIdleLocked()
		}
		sess = conversation.NewSession(s.analyst, s.semanticView)
		s.sessions[id] = sess
	}
	return sess
}

// evictIdleLocked drops one idle session. Sessions with a submission in
// flight and the default session are never evicted.
func (s *Server) evictIdleLocked() {
	for id, sess := range s.sessions {
		if id == "default" || sess.State() != conversation.StateIdle {
			continue
		}
		delete(s.sessions, id)
		logger.L.Debug("evicted idle session", "session", id)
		return
	}
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Blocks []conversation.Block `json:"blocks"`
}

func (s *Server) handleAnalystMessage(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess := s.session(r)
	items, err := sess.Submit(r.Context(), req.Question)
	if err != nil {
		switch {
		case errors.Is(err, conversation.ErrEmptyQuestion):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, conversation.ErrBusy):
			writeError(w, http.StatusConflict, err.Error())
		default:
			// Transport and malformed-response failures surface alike: an
			// inline message, history intact, the user retries.
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	blocks := conversation.Render(r.Context(), items, s.querier)
	writeJSON(w, http.StatusOK, askResponse{Blocks: blocks})
}

func (s *Server) handleAnalystClear(w http.ResponseWriter, r *http.Request) {
	if err := s.session(r).Clear(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAnalystHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"messages": s.session(r).History()})
}

func parseFilters(r *http.Request) (Filters, error) {
	var f Filters
	q := r.URL.Query()
	f.AircraftType = q.Get("type")
	f.Category = q.Get("category")
	if v := q.Get("min_altitude"); v != "" {
		alt, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, errors.New("min_altitude must be numeric")
		}
		f.MinAltitude = &alt
	}
	if v := q.Get("max_altitude"); v != "" {
		alt, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, errors.New("max_altitude must be numeric")
		}
		f.MaxAltitude = &alt
	}
	return f, nil
}

func (s *Server) handleAircraft(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	table, err := s.store.Recent(r.Context(), f)
	if err != nil {
		logger.L.Error("filtered read failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (s *Server) handleAircraftTypes(w http.ResponseWriter, r *http.Request) {
	values, err := s.store.DistinctAircraftTypes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"types": values})
}

func (s *Server) handleAircraftCategories(w http.ResponseWriter, r *http.Request) {
	values, err := s.store.DistinctCategories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"categories": values})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	table, err := s.store.Recent(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="aircraft.csv"`)
		err = WriteCSV(w, table)
	case "json":
		w.Header().Set("Content-Type", "application/json")
		err = WriteJSON(w, table)
	case "xlsx":
		// Built in memory so a failed encode yields an error response, not
		// a committed 200 with an empty body.
		var buf bytes.Buffer
		if err := WriteXLSX(&buf, table); err != nil {
			logger.L.Error("export failed", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="aircraft.xlsx"`)
		_, err = w.Write(buf.Bytes())
	default:
		writeError(w, http.StatusBadRequest, "unknown export format")
		return
	}
	if err != nil {
		logger.L.Error("export failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Warn("write response error", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
