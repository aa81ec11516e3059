package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"icanban/internal/model"
	"icanban/internal/tracker"
)

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Views())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	v, err := s.manager.View(r.PathValue("uid"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleCreateTask creates a task from a property object, e.g.
//
//	{"summary": "write report", "related-to": "<parent uid>"}
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	patch, err := decodePatch(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := s.manager.Save(r.Context(), tracker.NewTask(), patch)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	s.respondView(w, http.StatusCreated, task.UID())
}

// handleUpdateTask applies a property object to an existing task. A null
// value removes the property.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	patch, err := decodePatch(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := s.manager.Get(r.PathValue("uid"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	if _, err := s.manager.Save(r.Context(), task, patch); err != nil {
		writeTaskError(w, err)
		return
	}
	s.respondView(w, http.StatusOK, r.PathValue("uid"))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(r.Context(), r.PathValue("uid")); err != nil {
		writeTaskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStart stops whatever runs on the task and opens a new time slice.
// The response is the new slice.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	slice, err := s.manager.Start(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	s.respondView(w, http.StatusCreated, slice.UID())
}

type stopResponse struct {
	Stopped []string `json:"stopped"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped, err := s.manager.Stop(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	resp := stopResponse{Stopped: []string{}}
	for _, t := range stopped {
		resp.Stopped = append(resp.Stopped, t.UID())
	}
	writeJSON(w, http.StatusOK, resp)
}

type elapsedResponse struct {
	UID       string `json:"uid"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

func (s *Server) handleElapsed(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	d, err := s.manager.Elapsed(uid)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, elapsedResponse{UID: uid, ElapsedMs: d.Milliseconds()})
}

type moveRequest struct {
	Container string `json:"container"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil || req.Container == "" {
		writeError(w, http.StatusBadRequest, "body must name a target container")
		return
	}
	if err := s.manager.Move(r.Context(), r.PathValue("uid"), req.Container); err != nil {
		writeTaskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunning(w http.ResponseWriter, _ *http.Request) {
	out := []model.TaskView{}
	for _, t := range s.manager.Running() {
		v, err := s.manager.View(t.UID())
		if err != nil {
			// Removed since Running was read.
			continue
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOrphans(w http.ResponseWriter, _ *http.Request) {
	orphans := s.manager.Orphans()
	if orphans == nil {
		orphans = []string{}
	}
	writeJSON(w, http.StatusOK, orphans)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Refresh(r.Context()); err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Views())
}

func (s *Server) respondView(w http.ResponseWriter, status int, uid string) {
	v, err := s.manager.View(uid)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, status, v)
}

// decodePatch reads a JSON object of properties. Integral numbers become
// int64 so integer properties keep their type.
func decodePatch(r *http.Request) (tracker.Patch, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		if err == io.EOF {
			return tracker.Patch{}, nil
		}
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	patch := make(tracker.Patch, len(raw))
	for k, v := range raw {
		patch[k] = normalizeNumber(v)
	}
	return patch, nil
}

func normalizeNumber(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = normalizeNumber(x[i])
		}
		return x
	default:
		return v
	}
}
