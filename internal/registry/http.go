package registry

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// RegisterRoutes mounts the registry HTTP surface on mux:
//
//	POST   /registry/agents       — register (body: AgentInfo JSON)
//	DELETE /registry/agents/{id}  — deregister
//	GET    /registry/agents       — list snapshot
func (r *Registry) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /registry/agents", r.handleRegister)
	mux.HandleFunc("DELETE /registry/agents/{id}", r.handleDeregister)
	mux.HandleFunc("GET /registry/agents", r.handleList)
}

func (r *Registry) handleRegister(w http.ResponseWriter, req *http.Request) {
	var info AgentInfo
	if err := json.NewDecoder(req.Body).Decode(&info); err != nil {
		http.Error(w, "invalid registration body", http.StatusBadRequest)
		return
	}

	if err := r.Register(info); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrDuplicateID) {
			status = http.StatusConflict
		}
		slog.Warn("registry: registration rejected", "agent_id", info.ID, "err", err)
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (r *Registry) handleDeregister(w http.ResponseWriter, req *http.Request) {
	r.Deregister(req.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (r *Registry) handleList(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(r.List()); err != nil {
		http.Error(w, `{"error":"encode"}`, http.StatusInternalServerError)
	}
}
