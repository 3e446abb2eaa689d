package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dileep-u-k/agent-host/internal/extract"
	"github.com/dileep-u-k/agent-host/internal/llm"
	"github.com/dileep-u-k/agent-host/internal/session"
	"github.com/dileep-u-k/agent-host/internal/tools"
)

// HostHandler exposes the orchestration boundary over HTTP. It owns no
// conversation state itself; everything lives in the session manager.
type HostHandler struct {
	manager *session.Manager
	config  *AppConfig
	rdb     *redis.Client

	// Injected factories keep the handler testable without real upstreams.
	newClient  func(ctx context.Context, provider string, cfg *llm.Config) (llm.Client, error)
	newServers func(workDir string) []tools.Server
}

// NewHostHandler wires the handler with its production factories.
func NewHostHandler(manager *session.Manager, config *AppConfig, rdb *redis.Client) *HostHandler {
	h := &HostHandler{manager: manager, config: config, rdb: rdb}
	h.newClient = h.buildClient
	h.newServers = h.buildServers
	return h
}

type startSessionRequest struct {
	WorkingDirectory string   `json:"working_directory"`
	Provider         string   `json:"provider"`
	Model            string   `json:"model"`
	ProviderBaseURL  string   `json:"provider_base_url"`
	APIKey           string   `json:"api_key"`
	Temperature      *float32 `json:"temperature"`
	ContextSize      int      `json:"context_size"`
	Stream           *bool    `json:"stream"`
}

type submitRequest struct {
	Text string `json:"text" binding:"required"`
}

type approveRequest struct {
	RequestID string `json:"request_id" binding:"required"`
	Approve   *bool  `json:"approve" binding:"required"`
}

// HandleStartSession creates a session from the request's provider selection
// merged with the process defaults.
func (h *HostHandler) HandleStartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	provider := strings.ToLower(req.Provider)
	if provider == "" {
		provider = h.config.Provider
	}
	workDir := req.WorkingDirectory
	if workDir == "" {
		workDir = h.config.WorkDir
	}
	stream := h.config.Stream
	if req.Stream != nil {
		stream = *req.Stream
	}

	clientCfg := &llm.Config{
		Model:       req.Model,
		BaseURL:     req.ProviderBaseURL,
		APIKey:      req.APIKey,
		Temperature: req.Temperature,
		ContextSize: req.ContextSize,
		MaxRPS:      h.config.MaxRPS,
	}
	if clientCfg.Model == "" {
		clientCfg.Model = h.config.Model
	}
	if clientCfg.APIKey == "" {
		clientCfg.APIKey = h.config.APIKey
	}
	if clientCfg.Temperature == nil {
		clientCfg.Temperature = h.config.Temperature
	}
	if clientCfg.ContextSize == 0 {
		clientCfg.ContextSize = h.config.ContextSize
	}

	client, err := h.newClient(c.Request.Context(), provider, clientCfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.manager.Create(c.Request.Context(), session.Options{
		WorkDir:   workDir,
		Servers:   h.newServers(workDir),
		Client:    client,
		Extractor: extract.NewStrategy(h.config.ToolEncoding),
		Stream:    stream,
	})
	if err != nil {
		log.Error().Err(err).Msg("session creation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID()})
}

// HandleSubmit forwards one user turn to the session. Streaming sessions
// answer with newline-delimited JSON events, the last carrying done=true.
func (h *HostHandler) HandleSubmit(c *gin.Context) {
	sess, ok := h.lookupSession(c)
	if !ok {
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	if sess.Streaming() {
		h.submitStreaming(c, sess, req.Text)
		return
	}

	outcome, err := sess.Submit(c.Request.Context(), req.Text)
	if err != nil {
		h.rejectSessionError(c, sess, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *HostHandler) submitStreaming(c *gin.Context, sess *session.Session, text string) {
	events, err := sess.SubmitStream(c.Request.Context(), text)
	if err != nil {
		h.rejectSessionError(c, sess, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "application/x-ndjson")
	c.Writer.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(c.Writer)
	for event := range events {
		if err := enc.Encode(event); err != nil {
			log.Warn().Err(err).Msg("client went away mid-stream")
			return
		}
		c.Writer.Flush()
	}
}

// HandleApprove resolves the session's pending tool approval. The response
// is a single JSON outcome on every session; the post-approval provider
// continuation does not stream even when submits on the session do.
func (h *HostHandler) HandleApprove(c *gin.Context) {
	sess, ok := h.lookupSession(c)
	if !ok {
		return
	}

	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	outcome, err := sess.Approve(c.Request.Context(), req.RequestID, *req.Approve)
	if err != nil {
		h.rejectSessionError(c, sess, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// HandleState reports the session's message log and pending approval.
func (h *HostHandler) HandleState(c *gin.Context) {
	sess, ok := h.lookupSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.GetState())
}

// HandleDelete tears a session down.
func (h *HostHandler) HandleDelete(c *gin.Context) {
	id := c.Param("id")
	if !h.manager.Remove(c.Request.Context(), id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HostHandler) lookupSession(c *gin.Context) (*session.Session, bool) {
	sess, ok := h.manager.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return sess, true
}

// rejectSessionError maps the session's structured rejections onto HTTP
// statuses; both carry enough context for the caller to recover.
func (h *HostHandler) rejectSessionError(c *gin.Context, sess *session.Session, err error) {
	switch {
	case errors.Is(err, session.ErrApprovalPending):
		state := sess.GetState()
		c.JSON(http.StatusConflict, gin.H{
			"error":      err.Error(),
			"request_id": state.PendingRequestID,
			"tool":       state.PendingToolCall,
		})
	case errors.Is(err, session.ErrUnknownRequest):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// buildClient constructs the provider client a session will use, decorated
// with the Redis response cache when one is configured.
func (h *HostHandler) buildClient(ctx context.Context, provider string, cfg *llm.Config) (llm.Client, error) {
	var (
		client llm.Client
		err    error
	)
	switch provider {
	case "ollama":
		if cfg.BaseURL == "" {
			cfg.BaseURL = h.config.OllamaBaseURL
		}
		client, err = llm.NewOllamaClient(cfg)
	case "openai":
		if cfg.BaseURL == "" {
			cfg.BaseURL = h.config.OpenAIBaseURL
		}
		client, err = llm.NewOpenAIClient(cfg)
	case "gemini":
		client, err = llm.NewGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q (want ollama, openai, or gemini)", provider)
	}
	if err != nil {
		return nil, err
	}
	return llm.NewCachingClient(client, h.rdb, cfg.Model), nil
}

// buildServers assembles a fresh server set for one session: the builtin
// in-process server plus one MCP adapter per configured external server.
// Each session gets its own MCP processes so its working state is isolated.
func (h *HostHandler) buildServers(workDir string) []tools.Server {
	servers := []tools.Server{tools.NewBuiltinServer(workDir)}
	for _, cfg := range h.config.ToolServers {
		servers = append(servers, tools.NewMCPServer(cfg.Name, cfg.Command, cfg.Args))
	}
	return servers
}
