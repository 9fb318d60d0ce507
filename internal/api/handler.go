package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/chat"
	"github.com/nidhogg/nora/internal/indexer"
	"github.com/nidhogg/nora/internal/orchestrator"
	"github.com/nidhogg/nora/internal/plugin"
	"github.com/nidhogg/nora/internal/rag"
	"github.com/nidhogg/nora/internal/store"
	"github.com/nidhogg/nora/internal/team"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine  *chat.Engine
	agents  *plugin.Registry
	coord   *orchestrator.Coordinator
	index   *indexer.Indexer
	rag     *rag.Index
	store   *store.Store
	version string
	logger  *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	engine *chat.Engine,
	agents *plugin.Registry,
	coord *orchestrator.Coordinator,
	index *indexer.Indexer,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		engine: engine,
		agents: agents,
		coord:  coord,
		index:  index,
		logger: logger,
	}
}

// SetRAG enables semantic project search.
func (h *Handler) SetRAG(ix *rag.Index) { h.rag = ix }

// SetStore enables the run history endpoints.
func (h *Handler) SetStore(s *store.Store) { h.store = s }

// SetVersion sets the version reported by /api/health.
func (h *Handler) SetVersion(v string) { h.version = v }

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/chat", h.chat)
		r.Get("/history", h.history)

		r.Get("/agents", h.listAgents)
		r.Get("/agents/{name}", h.getAgent)
		r.Post("/agents/{name}", h.runAgent)

		r.Post("/team", h.runTeam)
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}", h.getRun)

		r.Post("/projects/index", h.indexProject)
		r.Post("/projects/search", h.searchProject)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "nora",
		"model":   h.engine.Model(),
		"version": h.version,
	})
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Stream = false
	reply, err := h.engine.Ask(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, chat.ErrEmptyMessage) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	hist := h.engine.History()
	if hist == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	n := 20
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "n must be a non-negative integer"})
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, hist.Recent(n))
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.agents.List())
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	p, ok := h.agents.Get(chi.URLParam(r, "name"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type runAgentRequest struct {
	Model   string         `json:"model"`
	Context map[string]any `json:"context"`
}

func (h *Handler) runAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req runAgentRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	model := req.Model
	if model == "" {
		model = h.engine.Model()
	}

	out, err := h.agents.Run(r.Context(), h.coord.Scheduler(), name, model, orchestrator.NewSharedContext(req.Context))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrConfiguration) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": name, "result": out})
}

type teamRequest struct {
	ConfigPath string         `json:"config_path"`
	Mode       string         `json:"mode,omitempty"`
	Model      string         `json:"model,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

type teamResponse struct {
	Team     string               `json:"team_name"`
	RunID    string               `json:"run_id"`
	Mode     orchestrator.Mode    `json:"mode"`
	Success  bool                 `json:"success"`
	Results  orchestrator.Results `json:"results"`
	Summary  string               `json:"summary"`
	Deadlock string               `json:"deadlock,omitempty"`
}

func (h *Handler) runTeam(w http.ResponseWriter, r *http.Request) {
	var req teamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ConfigPath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "config_path is required"})
		return
	}
	model := req.Model
	if model == "" {
		model = h.engine.Model()
	}

	_, plan, err := team.LoadPlan(req.ConfigPath, h.agents, model, req.Mode)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, orchestrator.ErrConfiguration):
			status = http.StatusBadRequest
		case errors.Is(err, fs.ErrNotExist):
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}

	report, err := h.coord.RunWithContext(r.Context(), plan, orchestrator.NewSharedContext(req.Context))
	status := http.StatusOK
	switch {
	case errors.Is(err, orchestrator.ErrDeadlock):
		status = http.StatusConflict
	case errors.Is(err, orchestrator.ErrConfiguration):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, status, teamResponse{
		Team:     report.Team,
		RunID:    report.ID,
		Mode:     report.Mode,
		Success:  report.Succeeded(),
		Results:  report.Results,
		Summary:  report.Summary(),
		Deadlock: report.Deadlock,
	})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run store not configured"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run store not configured"})
		return
	}
	tasks, err := h.store.TaskResults(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(tasks) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

type indexRequest struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

func (h *Handler) indexProject(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "path is required"})
		return
	}
	idx, err := h.index.IndexProject(req.Path, req.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.index.Save(idx); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	embedded := 0
	if h.rag != nil {
		embedded = h.rag.AddProject(r.Context(), idx)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_name": idx.ProjectName,
		"total_files":  idx.TotalFiles,
		"skipped":      idx.SkippedFiles,
		"languages":    idx.Languages,
		"embedded":     embedded,
	})
}

type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
	Semantic   bool   `json:"semantic,omitempty"`
}

func (h *Handler) searchProject(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	if req.MaxResults <= 0 {
		req.MaxResults = 10
	}

	if req.Semantic {
		if h.rag == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "semantic search not configured"})
			return
		}
		hits, err := h.rag.Search(r.Context(), rag.CollFiles, req.Query, req.MaxResults)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, hits)
		return
	}

	results, err := h.index.Search(req.Query, req.MaxResults)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if results == nil {
		results = []indexer.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
