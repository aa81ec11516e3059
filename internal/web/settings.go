package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"icanban/internal/ics"
	appLog "icanban/internal/log"
	"icanban/internal/model"
	"icanban/internal/store"
)

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.QueryContainers(r.Context(), store.ContainerFilter{Capability: store.CapabilityTasks})
	if err != nil {
		writeTaskError(w, err)
		return
	}
	if list == nil {
		list = []store.Container{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateContainer(w http.ResponseWriter, r *http.Request) {
	creator, ok := s.store.(store.ContainerCreator)
	if !ok {
		writeError(w, http.StatusNotImplemented, "store cannot create containers")
		return
	}
	var c store.Container
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&c); err != nil || c.Name == "" {
		writeError(w, http.StatusBadRequest, "body must carry a container name")
		return
	}
	c.Capabilities = []string{store.CapabilityTasks}
	created, err := creator.CreateContainer(r.Context(), c)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	s.cfgMu.Lock()
	settings := s.cfg.Settings()
	s.cfgMu.Unlock()
	settings.Container = s.manager.Container()
	writeJSON(w, http.StatusOK, settings)
}

// handlePutSettings applies new settings: the autosave interval takes
// effect at once, a container change rebuilds the tree, and the result is
// written back to the config file.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req model.Settings
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Container == "" {
		req.Container = s.manager.Container()
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	next := *s.cfg
	if err := next.ApplySettings(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Container != s.manager.Container() {
		c, err := store.EnsureContainer(r.Context(), s.store, req.Container)
		if err != nil {
			writeTaskError(w, err)
			return
		}
		if err := s.manager.SetContainer(r.Context(), c.ID); err != nil {
			writeTaskError(w, err)
			return
		}
		next.Container = c.ID
	}
	if s.poller != nil {
		s.poller.SetFrequency(next.PollFrequencyMs)
	}

	*s.cfg = next
	if s.cfgPath != "" {
		if err := s.cfg.Save(s.cfgPath); err != nil {
			appLog.Error("failed to persist settings", err, "path", s.cfgPath)
			writeError(w, http.StatusInternalServerError, "settings applied but not saved")
			return
		}
	}
	writeJSON(w, http.StatusOK, s.cfg.Settings())
}

// handleExport writes the tree, or the subtree named by ?uid=, as an
// iCalendar file.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	todos, err := s.manager.Export(r.URL.Query().Get("uid"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="icanban.ics"`)
	if err := ics.EncodeICS(w, todos); err != nil {
		appLog.Error("export failed", err)
	}
}

type importResponse struct {
	Imported map[string]string `json:"imported"`
	Error    string            `json:"error,omitempty"`
}

// handleImport reads an iCalendar body and adds its VTODOs as new tasks.
// Partial failures are reported next to what was imported.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	todos, err := ics.ParseICS(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mapping, err := s.manager.Import(r.Context(), todos)
	if err != nil && len(mapping) == 0 && len(todos) > 0 {
		writeTaskError(w, err)
		return
	}
	resp := importResponse{Imported: mapping}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStream sends tree events as server-sent events until the client
// goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch := s.manager.Subscribe()
	defer s.manager.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				appLog.Error("stream: encode event", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
				appLog.Debug("stream: client gone", "err", err)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
