package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"golang.org/x/sync/semaphore"

	"github.com/Tech-Tweakers/polaris-core/internal/history"
	"github.com/Tech-Tweakers/polaris-core/internal/inference"
	"github.com/Tech-Tweakers/polaris-core/internal/logger"
	"github.com/Tech-Tweakers/polaris-core/internal/reasoning"
	"github.com/Tech-Tweakers/polaris-core/internal/version"
	"github.com/Tech-Tweakers/polaris-core/internal/webui"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// Engine is what the server drives. *inference.Session satisfies it.
type Engine interface {
	inference.Generator
	ContextSize() int
	Occupied() int
}

type Config struct {
	Engine   Engine
	Backend  string
	Model    string
	Defaults inference.GenDefaults
	// History, when set, receives a record of every generate call.
	History *history.Store
	// MaxQueue bounds generate calls in flight, running or waiting for the
	// session. Further calls get 429.
	MaxQueue int64
	Logger   logger.Logger
}

type Server struct {
	engine   Engine
	backend  string
	model    string
	defaults inference.GenDefaults
	history  *history.Store
	queue    *semaphore.Weighted
	log      logger.Logger
	clock    func() time.Time
}

func NewServer(cfg Config) *Server {
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	return &Server{
		engine:   cfg.Engine,
		backend:  cfg.Backend,
		model:    cfg.Model,
		defaults: cfg.Defaults,
		history:  cfg.History,
		queue:    semaphore.NewWeighted(cfg.MaxQueue),
		log:      cfg.Logger.With("component", "api"),
		clock:    time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/", s.handleIndex)
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/model", s.handleModel)
	e.POST("/v1/generate", s.handleGenerate)
	e.GET("/v1/generations", s.handleListGenerations)
	e.GET("/v1/generations/:id", s.handleGetGeneration)

	s.RegisterChatCompletions(e)
}

func (s *Server) handleIndex(c *echo.Context) error {
	return c.HTML(http.StatusOK, webui.Index())
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModel(c *echo.Context) error {
	if s.engine == nil {
		return writeGenerateError(c, inference.ErrModelUnavailable)
	}
	return c.JSON(http.StatusOK, ModelInfo{
		Object:      "model",
		Backend:     s.backend,
		Model:       s.model,
		ContextSize: s.engine.ContextSize(),
		Occupied:    s.engine.Occupied(),
		Version:     version.String(),
	})
}

func (s *Server) handleGenerate(c *echo.Context) error {
	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return writeBadRequest(c, "prompt is required")
	}
	opts := inference.RequestOptions{
		Prompt:        req.Prompt,
		SystemPrompt:  req.SystemPrompt,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		RepeatPenalty: req.RepeatPenalty,
		Seed:          req.Seed,
	}
	return s.generate(c, opts, req.Stream != nil && *req.Stream)
}

// generation is one admitted call. Its id and logger are fixed before the
// engine runs so streamed events, logs and history agree.
type generation struct {
	id      string
	created time.Time
	ctx     context.Context
}

// admit reserves a queue slot for one call. On success the caller must call
// release.
func (s *Server) admit(c *echo.Context) (g generation, release func(), err error) {
	if s.engine == nil {
		return g, nil, inference.ErrModelUnavailable
	}
	if !s.queue.TryAcquire(1) {
		return g, nil, errQueueFull
	}
	g.id = newGenerationID()
	g.created = s.clock()
	g.ctx = logger.WithContext(c.Request().Context(), s.log.With("generation_id", g.id))
	return g, func() { s.queue.Release(1) }, nil
}

// run resolves opts against the server defaults, drives the engine and
// records the outcome.
func (s *Server) run(g generation, opts inference.RequestOptions) (*inference.Result, error) {
	req := inference.ResolveRequest(opts, s.defaults)
	res, err := s.engine.Generate(g.ctx, req)
	s.record(g.ctx, g.id, g.created, req, res, err)
	if err != nil {
		logger.FromContext(g.ctx).Warn("generate failed", "error", err)
	}
	return res, err
}

// generate writes either a JSON body or an event stream.
func (s *Server) generate(c *echo.Context, opts inference.RequestOptions, stream bool) error {
	g, release, err := s.admit(c)
	if err != nil {
		return writeGenerateError(c, err)
	}
	defer release()

	var sw *SSEStreamWriter
	if stream {
		w, err := NewSSEStreamWriter(c, g.id)
		if err != nil {
			return writeBadRequest(c, err.Error())
		}
		sw = w
		opts.OnFragment = sw.Fragment
	}

	res, genErr := s.run(g, opts)
	if genErr != nil {
		if sw != nil && sw.Started() {
			return sw.Failed(genErr)
		}
		return writeGenerateError(c, genErr)
	}

	resp := s.response(g.id, g.created, res)
	if sw != nil {
		return sw.Complete(resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) response(id string, created time.Time, res *inference.Result) GenerateResponse {
	split := reasoning.SplitRaw(res.Text)
	return GenerateResponse{
		ID:         id,
		Object:     "generation",
		CreatedAt:  created.Unix(),
		Text:       res.Text,
		Content:    reasoning.Clean(split.Content),
		Reasoning:  split.Reasoning,
		StopReason: string(res.StopReason),
		Usage:      usageOf(res.Stats),
		Stats:      res.Stats,
	}
}

func (s *Server) record(ctx context.Context, id string, created time.Time, req inference.Request, res *inference.Result, genErr error) {
	if s.history == nil {
		return
	}
	rec := history.Record{
		ID:           id,
		CreatedAt:    created,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
	}
	if res != nil {
		rec.Output = res.Text
		rec.StopReason = string(res.StopReason)
		rec.Stats = res.Stats
	}
	if genErr != nil {
		rec.Error = genErr.Error()
	}
	if err := s.history.Record(context.WithoutCancel(ctx), rec); err != nil {
		s.log.Error("record generation", "generation_id", id, "error", err)
	}
}

func (s *Server) handleListGenerations(c *echo.Context) error {
	if s.history == nil {
		return writeNotFound(c, "history is disabled")
	}
	limit := defaultListLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return writeBadRequest(c, "limit must be a positive integer")
		}
		limit = min(n, maxListLimit)
	}
	recs, err := s.history.Recent(c.Request().Context(), limit)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	return c.JSON(http.StatusOK, GenerationList{Object: "list", Data: recs})
}

func (s *Server) handleGetGeneration(c *echo.Context) error {
	if s.history == nil {
		return writeNotFound(c, "history is disabled")
	}
	rec, err := s.history.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, history.ErrNotFound) {
		return writeNotFound(c, err.Error())
	}
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}
