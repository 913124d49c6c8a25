package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"gateway-console/internal/gateway"
	"gateway-console/internal/repo"
	"gateway-console/internal/resolver"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

// writeError maps the gateway error taxonomy onto HTTP statuses. Auth errors
// carry a hint directing the user to configuration rather than retry.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, gateway.ErrValidation):
		status, resp.Kind = http.StatusBadRequest, "validation"
	case errors.Is(err, gateway.ErrConflict):
		status, resp.Kind = http.StatusConflict, "conflict"
	case errors.Is(err, gateway.ErrNotFound):
		status, resp.Kind = http.StatusNotFound, "not_found"
	case errors.Is(err, gateway.ErrAuth):
		status, resp.Kind = http.StatusUnauthorized, "auth"
		resp.Hint = "configure the gateway credential in settings"
	case errors.Is(err, gateway.ErrTransport):
		status, resp.Kind = http.StatusGatewayTimeout, "transport"
	case errors.Is(err, gateway.ErrPairingFetch):
		status, resp.Kind = http.StatusBadGateway, "pairing_fetch"
	case errors.Is(err, gateway.ErrBackendFatal):
		status, resp.Kind = http.StatusBadGateway, "backend"
	case errors.Is(err, resolver.ErrUnresolvable):
		status, resp.Kind = http.StatusInternalServerError, "config"
		resp.Hint = "set a gateway url in settings or deployment config"
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := s.deps.Gateway.List(r.Context())
	if err != nil {
		if errors.Is(err, gateway.ErrTransport) {
			s.serveSnapshotFallback(w, r, err)
			return
		}
		s.writeError(w, err)
		return
	}

	if s.deps.Store != nil {
		snapshots := make([]repo.InstanceSnapshot, 0, len(instances))
		now := time.Now()
		for _, inst := range instances {
			snapshots = append(snapshots, repo.InstanceSnapshot{
				Name:           inst.Name,
				GatewayID:      inst.ID,
				Status:         string(inst.Status),
				Phone:          inst.Phone,
				ProfileName:    inst.ProfileName,
				ProfilePicture: inst.ProfilePicture,
				FetchedAt:      now,
			})
		}
		if err := s.deps.Store.ReplaceInstanceSnapshots(r.Context(), snapshots); err != nil {
			s.logger.Warn("persist instance snapshots failed", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"instances": instances, "stale": false})
}

// serveSnapshotFallback renders the last persisted list when the gateway is
// unreachable. Records are marked stale so the dashboard can badge them; with
// no store or no stored rows the view degrades to an empty list.
func (s *Server) serveSnapshotFallback(w http.ResponseWriter, r *http.Request, cause error) {
	s.logger.Warn("instance list fetch failed, serving stored snapshots", "error", cause)
	instances := []gateway.Instance{}
	var fetchedAt time.Time
	if s.deps.Store != nil {
		snapshots, err := s.deps.Store.ListInstanceSnapshots(r.Context())
		if err != nil {
			s.logger.Warn("read instance snapshots failed", "error", err)
		}
		for _, snap := range snapshots {
			instances = append(instances, gateway.Instance{
				ID:             snap.GatewayID,
				Name:           snap.Name,
				Status:         gateway.Status(snap.Status),
				Phone:          snap.Phone,
				ProfileName:    snap.ProfileName,
				ProfilePicture: snap.ProfilePicture,
			})
			if snap.FetchedAt.After(fetchedAt) {
				fetchedAt = snap.FetchedAt
			}
		}
	}
	resp := map[string]any{"instances": instances, "stale": true}
	if !fetchedAt.IsZero() {
		resp["fetchedAt"] = fetchedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFlows lists every known connection flow, active or finished.
func (s *Server) handleFlows(w http.ResponseWriter, r *http.Request) {
	flows := s.deps.Conn.Snapshots()
	sort.Slice(flows, func(i, j int) bool { return flows[i].Name < flows[j].Name })
	writeJSON(w, http.StatusOK, map[string]any{"flows": flows})
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Kind: "validation"})
		return
	}

	inst, err := s.deps.Gateway.Create(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.deps.Gateway.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	// Stop any live flow first so an in-flight fetch cannot act on a deleted
	// instance when it resolves.
	_ = s.deps.Conn.Cancel(r.Context(), name)
	if err := s.deps.Gateway.Delete(r.Context(), name); err != nil {
		s.writeError(w, err)
		return
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.DeleteInstanceSnapshot(r.Context(), name); err != nil {
			s.logger.Warn("delete instance snapshot failed", "instance", name, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Conn.Connect(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Conn.Cancel(r.Context(), r.PathValue("name")); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Kind: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Conn.Regenerate(r.Context(), r.PathValue("name")); err != nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Kind: "conflict"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "regenerating"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Gateway.Restart(r.Context(), r.PathValue("name")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restarting"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	_ = s.deps.Conn.Cancel(r.Context(), name)
	if err := s.deps.Gateway.Logout(r.Context(), name); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handlePairing(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.deps.Conn.Snapshot(r.PathValue("name"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no connection session", Kind: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"attempts": []any{}})
		return
	}
	attempts, err := s.deps.Store.ListPairingAttempts(r.Context(), r.PathValue("name"), 20)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	stored, err := s.deps.Settings.Get(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"baseUrl":       stored.BaseURL,
		"credentialSet": stored.Credential != "",
		"updatedAt":     stored.UpdatedAt,
	})
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BaseURL    string `json:"baseUrl"`
		Credential string `json:"credential"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Kind: "validation"})
		return
	}
	if err := s.deps.Settings.Save(r.Context(), req.BaseURL, req.Credential); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "validation"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}
