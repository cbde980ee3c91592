package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"persona-chat/internal/chat"
	"persona-chat/internal/config"
	"persona-chat/internal/llm"
	"persona-chat/internal/models"
	"persona-chat/internal/persona"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeoutMargin  = 30 * time.Second
	idleTimeout         = 120 * time.Second
)

type Server struct {
	cfg     config.Config
	chat    *chat.Service
	app     *echo.Echo
	limiter *contactLimiter
	logger  *zap.Logger
	address string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, svc *chat.Service, logger *zap.Logger) (*Server, error) {
	if svc == nil {
		return nil, errors.New("chat service must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("id", v.RequestID),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Int64("latency_ms", v.Latency.Milliseconds()),
				zap.Error(v.Error),
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv := &Server{
		cfg:     cfg,
		chat:    svc,
		app:     e,
		limiter: newContactLimiter(cfg.Server.RateLimit),
		logger:  logger,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port, s.chat.TargetContact())
	s.logger.Info("starting server", zap.String("addr", s.address))

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeoutFor(s.cfg.LLM),
		IdleTimeout:  idleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server shutdown complete")
		return nil
	})

	return g.Wait()
}

// writeTimeoutFor outlasts the slowest possible model chain so a reply is
// never cut off after it has been recorded. An unbounded chain disables the
// write timeout.
func writeTimeoutFor(cfg config.LLMConfig) time.Duration {
	budget := cfg.OrchestratorConfig().WorstCaseDuration()
	if budget <= 0 {
		return 0
	}
	return budget + writeTimeoutMargin
}

func (s *Server) registerRoutes() {
	s.app.GET("/", s.handleIndex)
	s.app.GET("/health", s.handleHealth)
	s.app.POST("/api/chat", s.handleChat)
	s.app.POST("/api/reset", s.handleReset)
	s.app.GET("/api/history", s.handleHistory)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type indexResponse struct {
	Target    string   `json:"target"`
	Endpoints []string `json:"endpoints"`
}

func (s *Server) handleIndex(c echo.Context) error {
	return c.JSON(http.StatusOK, indexResponse{
		Target: persona.DisplayName(s.chat.TargetContact()),
		Endpoints: []string{
			"GET /health",
			"POST /api/chat",
			"POST /api/reset",
			"GET /api/history",
		},
	})
}

type chatRequest struct {
	Message       string `json:"message"`
	Contact       string `json:"contact"`
	Salutation    string `json:"salutation"`
	AllowIntimate *bool  `json:"allow_intimate"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	if strings.TrimSpace(req.Message) == "" {
		return toHTTPError(chat.ErrEmptyMessage)
	}

	contact := s.chat.ResolveContact(req.Contact)
	if !s.limiter.Allow(contact) {
		return requestError{
			Status:  http.StatusTooManyRequests,
			Message: "too many messages, wait a moment and try again",
		}
	}

	reply, err := s.chat.Send(c.Request().Context(), chat.Request{
		Contact:       contact,
		Message:       req.Message,
		Salutation:    req.Salutation,
		AllowIntimate: req.AllowIntimate,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, chatResponse{Reply: reply.Text})
}

type resetRequest struct {
	Contact string `json:"contact"`
}

func (s *Server) handleReset(c echo.Context) error {
	var req resetRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	if _, err := s.chat.Reset(c.Request().Context(), req.Contact); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

type historyResponse struct {
	Contact  string           `json:"contact"`
	Messages []models.Message `json:"messages"`
}

func (s *Server) handleHistory(c echo.Context) error {
	contact, history, err := s.chat.History(c.Request().Context(), c.QueryParam("contact"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, historyResponse{Contact: contact, Messages: history})
}

// decodeRequestBody reads a single JSON object. An empty body decodes as {}.
func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(c echo.Context, status int, message string) error {
	return c.JSON(status, errorBody{Error: message})
}

func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = writeError(c, he.Code, fmt.Sprint(he.Message))
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error")
}

func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	if errors.Is(err, chat.ErrEmptyMessage) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
		}
	}

	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: llmErr.Error(),
		}
	}

	return err
}

func printStartupBanner(port int, target string) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("persona-chat ready")
	fmt.Printf("Listening on http://%s:%d (default contact: %s)\n", host, port, target)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  POST /api/chat")
	fmt.Println("  POST /api/reset")
	fmt.Println("  GET  /api/history")
	fmt.Printf("Example:\n  curl http://%s:%d/api/chat -H 'Content-Type: application/json' -d '{\"message\":\"halo\"}'\n\n", host, port)
}
