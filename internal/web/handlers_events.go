package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/cdmtriage/internal/core"
	"github.com/JonMunkholm/cdmtriage/internal/logging"
)

// EventListResponse is the body of GET /api/events.
type EventListResponse struct {
	Events []core.Event      `json:"events"`
	Total  int               `json:"total"`
	Counts map[core.Lane]int `json:"counts"`
}

// SimulateResponse is the body of POST /api/events/{id}/simulate.
type SimulateResponse struct {
	Event      *core.Event            `json:"event"`
	Simulation *core.SimulationResult `json:"simulation"`
}

// PolicyResponse is the body of PUT /api/policy.
type PolicyResponse struct {
	Policy       core.PolicyConfig `json:"policy"`
	Reclassified int               `json:"reclassified"`
}

// parseLaneFilter reads ?lane=A,B (repeatable). An empty value matches all.
func parseLaneFilter(r *http.Request) (core.LaneFilter, error) {
	var filter core.LaneFilter
	for _, raw := range r.URL.Query()["lane"] {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			lane, err := core.ParseLane(strings.ToUpper(name))
			if err != nil {
				return nil, err
			}
			filter = append(filter, lane)
		}
	}
	return filter, nil
}

// parseIntParam parses an integer query parameter, returning def when absent.
func parseIntParam(r *http.Request, name string, def int) (int, error) {
	val := r.URL.Query().Get(name)
	if val == "" {
		return def, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return i, nil
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLaneFilter(r)
	if err != nil {
		respondBadRequest(w, err.Error())
		return
	}

	events, err := s.service.ListEvents(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, EventListResponse{
		Events: events,
		Total:  len(events),
		Counts: core.CountByLane(events),
	})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.service.GetEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, ev)
}

func (s *Server) handleClearEvents(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Clear(WithRequestMetadata(r.Context(), r)); err != nil {
		s.respondError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("events cleared via api")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	count, err := parseIntParam(r, "count", core.DefaultSeedCount)
	if err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	if count < 1 || count > core.MaxSeedCount {
		respondBadRequest(w, fmt.Sprintf("count must be between 1 and %d", core.MaxSeedCount))
		return
	}

	n, err := s.service.Seed(r.Context(), count)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]int{"seeded": n})
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "eventID")
	samples, err := parseIntParam(r, "samples", 0)
	if err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	if samples < 0 || samples > s.cfg.Simulation.MaxSamples {
		s.respondError(w, r, fmt.Errorf("samples=%d: %w", samples, core.ErrInvalidSampleCount))
		return
	}

	ev, res, err := s.service.Refine(r.Context(), id, samples)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, SimulateResponse{Event: ev, Simulation: res})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.Policy())
}

// handlePutPolicy accepts a full or partial policy; omitted fields keep
// their current values. Every stored event is re-classified.
func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	p := s.service.Policy()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		respondBadRequest(w, "invalid policy body: "+err.Error())
		return
	}

	n, err := s.service.ApplyPolicy(WithRequestMetadata(r.Context(), r), p)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, PolicyResponse{Policy: s.service.Policy(), Reclassified: n})
}
