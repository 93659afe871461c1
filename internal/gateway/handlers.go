package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/skipperhq/skipper/internal/agent"
	"github.com/skipperhq/skipper/internal/control"
	"github.com/skipperhq/skipper/internal/retry"
	"github.com/skipperhq/skipper/internal/steel"
	"github.com/skipperhq/skipper/internal/stream"
	"github.com/skipperhq/skipper/pkg/models"
)

// resumeRetry bounds re-delivery of a resume command. One retry with a
// short fixed delay, never indefinite.
var resumeRetry = retry.Fixed(2, 100*time.Millisecond)

// chatRequest is the body of POST /api/chat. Field names follow the
// frontend's wire shape.
type chatRequest struct {
	SessionID     string               `json:"session_id"`
	AgentType     agent.Type           `json:"agent_type"`
	Provider      models.ModelProvider `json:"provider"`
	APIKey        string               `json:"api_key,omitempty"`
	Messages      []models.ChatMessage `json:"messages"`
	AgentSettings models.AgentSettings `json:"agent_settings"`
	ModelSettings modelSettings        `json:"model_settings"`
}

// modelSettings mirrors the frontend's model settings panel.
type modelSettings struct {
	ModelChoice string  `json:"model_choice"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
}

type sessionRequest struct {
	AgentType agent.Type `json:"agent_type"`

	// Timeout is the session lifetime in seconds.
	Timeout int `json:"timeout,omitempty"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	logger := s.requestLogger(r)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "Session ID is required")
		return
	}
	info, ok := agent.LookupAgent(req.AgentType)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown agent type %q", req.AgentType))
		return
	}
	if req.Provider == "" {
		req.Provider = models.ProviderAnthropic
	}

	modelCfg := models.ModelConfig{
		Provider:    req.Provider,
		Model:       req.ModelSettings.ModelChoice,
		APIKey:      req.APIKey,
		MaxTokens:   req.ModelSettings.MaxTokens,
		Temperature: req.ModelSettings.Temperature,
		TopP:        req.ModelSettings.TopP,
	}
	if err := modelCfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.AgentSettings.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Configuration errors fail fast with a plain error response; only
	// upstream failures after this point are streamed as wire events.
	client, err := s.newModelClient(r.Context(), modelCfg)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	systemPrompt := req.AgentSettings.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = agent.DefaultSystemPrompt(info.Type)
	}
	keepImages := req.AgentSettings.NumImagesToKeep
	if keepImages == 0 {
		keepImages = s.config.Agent.NumImagesToKeep
	}
	conv, err := agent.NewConversationFromHistory(systemPrompt, req.Messages, keepImages)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid chat history: %v", err))
		return
	}

	runner, closeRunner, err := s.newRunner(r.Context(), req.SessionID, info.Type)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("browser session unavailable: %v", err))
		return
	}
	defer func() {
		if err := closeRunner(); err != nil {
			logger.Warn("runner close failed", "error", err)
		}
	}()

	maxSteps := req.AgentSettings.MaxSteps
	if maxSteps == 0 {
		maxSteps = s.config.Agent.MaxSteps
	}
	waitBetween := time.Duration(req.AgentSettings.WaitBetweenSteps) * time.Second

	loop := agent.NewLoop(client, runner, s.registry, logger, s.metrics, s.tracer, agent.Config{
		AgentType:        string(info.Type),
		Model:            modelCfg,
		MaxSteps:         maxSteps,
		WaitBetweenSteps: waitBetween,
	})

	events, err := loop.Run(r.Context(), req.SessionID, conv)
	if err != nil {
		if errors.Is(err, control.ErrSessionActive) {
			writeError(w, http.StatusConflict, "an agent is already running for this session")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.activity.touch(req.SessionID)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set(stream.HeaderName, stream.HeaderValue)
	w.WriteHeader(http.StatusOK)

	encoder := stream.NewEncoder(w, logger, s.metrics)
	if err := encoder.Encode(events); err != nil {
		// The client is gone; the loop has already observed the
		// cancelled context and wound down.
		logger.Debug("stream ended early", "error", err)
	}
	s.activity.touch(req.SessionID)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session provider not configured")
		return
	}

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if _, ok := agent.LookupAgent(req.AgentType); !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown agent type %q", req.AgentType))
		return
	}
	if req.Timeout <= 0 {
		req.Timeout = 1000
	}

	opts := steel.CreateOptions{Timeout: time.Duration(req.Timeout) * time.Second}
	// The computer-use models are calibrated for a fixed display size, so
	// their sessions pin the viewport.
	if req.AgentType == agent.TypeClaudeComputerUse {
		opts.Dimensions = &steel.Dimensions{Width: 1280, Height: 800}
	}

	session, err := s.sessions.CreateSession(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("create session: %v", err))
		return
	}

	s.activity.touch(session.ID)
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleReleaseSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session provider not configured")
		return
	}
	sessionID := r.PathValue("id")

	if err := s.sessions.ReleaseSession(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("release session: %v", err))
		return
	}
	s.activity.forget(sessionID)
	s.resumeDebounce.Forget(sessionID)
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Session released"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if err := s.registry.SendCommand(sessionID, control.CommandPause); err != nil {
		if errors.Is(err, control.ErrUnknownSession) {
			writeError(w, http.StatusNotFound, "no active agent for session")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Agent paused"})
}

// handleResume delivers a resume command with a bounded retry. Duplicate
// resumes inside the cooldown window and resumes for unknown sessions both
// report success: the caller cannot distinguish benign races from failures
// and should not be blocked by them.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if !s.resumeDebounce.Allow(sessionID) {
		writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Resume already in progress"})
		return
	}

	result := retry.Do(r.Context(), resumeRetry, func() error {
		err := s.registry.SendCommand(sessionID, control.CommandResume)
		if errors.Is(err, control.ErrUnknownSession) {
			return retry.Permanent(err)
		}
		return err
	})
	if result.Err != nil {
		if errors.Is(result.Err, control.ErrUnknownSession) {
			writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Agent already resumed"})
			return
		}
		writeError(w, http.StatusInternalServerError, result.Err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Agent resumed"})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": agent.Catalog()})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": message},
	})
}
