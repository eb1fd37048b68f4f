package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mstefanon/nimbus/internal/agent"
	"github.com/mstefanon/nimbus/internal/config"
	"github.com/mstefanon/nimbus/internal/memory"
	"github.com/mstefanon/nimbus/internal/observability"
	"github.com/mstefanon/nimbus/internal/prompt"
)

// userHeader identifies the requester. Missing headers map to a shared
// anonymous user, matching local single-user deployments.
const userHeader = "X-User-ID"

const anonymousUser = "anonymous"

type Server struct {
	cfg      config.Config
	router   *agent.Router
	memory   *memory.Manager
	prompts  *prompt.Cache
	metrics  *observability.Metrics
	stages   *observability.StageWindow
	upgrader websocket.Upgrader
}

func New(
	cfg config.Config,
	router *agent.Router,
	mem *memory.Manager,
	prompts *prompt.Cache,
	metrics *observability.Metrics,
	stages *observability.StageWindow,
) *Server {
	return &Server{
		cfg:     cfg,
		router:  router,
		memory:  mem,
		prompts: prompts,
		metrics: metrics,
		stages:  stages,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other websites cannot drive a user's chat
				// if the service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/chat/ws", s.handleChatWS)

	r.Get("/v1/history", s.handleGetHistory)
	r.Delete("/v1/history", s.handleDeleteHistory)

	r.Get("/v1/prompts", s.handleListPrompts)
	r.Put("/v1/prompts/{name}", s.handleUpdatePrompt)
	r.Post("/v1/prompts/{name}/refresh", s.handleRefreshPrompt)
	r.Post("/v1/prompts/{name}/upload-default", s.handleUploadDefault)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"store_mode":     s.storeMode(),
		"prompts_cached": len(s.prompts.List()),
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.stages.Snapshot())
}

type chatRequest struct {
	Query string `json:"query"`
}

type chatResponse struct {
	UserID string `json:"user_id"`
	Reply  string `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	userID := requestUser(r)

	reply, err := s.router.Answer(r.Context(), userID, req.Query, nil)
	if err != nil {
		if errors.Is(err, memory.ErrStoreUnavailable) {
			respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{UserID: userID, Reply: reply})
}

type historyResponse struct {
	UserID string              `json:"user_id"`
	Turns  []memory.TurnRecord `json:"turns"`
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	userID := requestUser(r)
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	turns, err := s.memory.GetContext(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	if turns == nil {
		turns = []memory.TurnRecord{}
	}
	respondJSON(w, http.StatusOK, historyResponse{UserID: userID, Turns: turns})
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	userID := requestUser(r)
	if err := s.memory.Clear(r.Context(), userID); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "status": "cleared"})
}

func (s *Server) handleListPrompts(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"prompts": s.prompts.List()})
}

type updatePromptRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleUpdatePrompt(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, "invalid_prompt_name", "missing prompt name")
		return
	}
	var req updatePromptRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}

	entry, err := s.prompts.Update(r.Context(), name, req.Content)
	if err != nil {
		respondError(w, http.StatusBadGateway, "registry_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleRefreshPrompt(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, "invalid_prompt_name", "missing prompt name")
		return
	}

	entry, err := s.prompts.Update(r.Context(), name, "")
	if err != nil {
		respondError(w, http.StatusBadGateway, "registry_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleUploadDefault(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, "invalid_prompt_name", "missing prompt name")
		return
	}

	version, err := s.prompts.UploadDefault(r.Context(), name)
	if err != nil {
		if errors.Is(err, prompt.ErrAlreadyExists) {
			respondError(w, http.StatusConflict, "prompt_exists", err.Error())
			return
		}
		respondError(w, http.StatusBadGateway, "registry_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"name": name, "version": version})
}

func (s *Server) storeMode() string {
	if strings.TrimSpace(s.cfg.DatabaseURL) != "" {
		return "postgres"
	}
	return "in-memory"
}

func requestUser(r *http.Request) string {
	userID := strings.TrimSpace(r.Header.Get(userHeader))
	if userID == "" {
		return anonymousUser
	}
	return userID
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
