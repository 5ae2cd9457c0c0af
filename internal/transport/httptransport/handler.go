package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/app"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/transport/rundto"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	svc app.RunService
}

func NewHandler(svc app.RunService) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts POST /run and GET /health.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/run", h.Run)
	mux.HandleFunc("/health", h.Health)
	return mux
}

func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var in rundto.RunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json", "details": err.Error()})
		return
	}

	res, err := h.svc.Run(r.Context(), in.ToApp())
	if err != nil {
		status, body := rundto.ErrorBody(err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, rundto.FromResult(res))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Health())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
