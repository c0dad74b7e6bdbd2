// Package server exposes the fallback chain as a synchronous HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ownlingo/catalog-translate/metrics"
	"github.com/ownlingo/catalog-translate/translator"
)

type Options struct {
	Host            string
	Port            int
	RequestTimeout  time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	BodyLimit       string
}

type Server struct {
	chain     translator.Translator
	providers []string
	logger    *logrus.Logger
	opts      Options
	echo      *echo.Echo
}

type translateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type translateResponse struct {
	Text       string               `json:"text"`
	Provider   string               `json:"provider"`
	DurationMs int64                `json:"durationMs"`
	Attempts   []translator.Attempt `json:"attempts,omitempty"`
}

type errorDetail struct {
	Type     string               `json:"type"`
	Message  string               `json:"message"`
	Attempts []translator.Attempt `json:"attempts,omitempty"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

// New creates a server around chain. providers lists the chain members in
// order and is only reported by the health endpoint.
func New(chain translator.Translator, providers []string, logger *logrus.Logger, opts Options) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if strings.TrimSpace(opts.Host) == "" {
		opts.Host = "0.0.0.0"
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = opts.RequestTimeout + 30*time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}
	if opts.BodyLimit == "" {
		opts.BodyLimit = "1M"
	}

	s := &Server{
		chain:     chain,
		providers: providers,
		logger:    logger,
		opts:      opts,
	}
	s.echo = s.routes()
	return s
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.BodyLimit(s.opts.BodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(v.Status)).Inc()

			entry := s.logger.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency,
				"remote_ip":  v.RemoteIP,
				"request_id": v.RequestID,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("HTTP request failed")
				return nil
			}
			entry.Info("HTTP request")
			return nil
		},
	}))

	e.POST("/translate", s.handleTranslate)
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.echo,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	s.logger.WithFields(logrus.Fields{
		"addr":      addr,
		"providers": s.providers,
	}).Info("Translation server started")

	if err := s.echo.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info("Translation server stopped")
	return nil
}

func (s *Server) handleTranslate(c echo.Context) error {
	var req translateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "request body must be a JSON object")
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	if strings.TrimSpace(req.TargetLang) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "target_lang is required")
	}
	if req.SourceLang == "" {
		req.SourceLang = translator.DetectLanguage(req.Text)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.opts.RequestTimeout)
	defer cancel()

	resp, err := s.chain.Translate(ctx, &translator.TranslationRequest{
		Text:           req.Text,
		SourceLanguage: req.SourceLang,
		TargetLanguage: req.TargetLang,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, translateResponse{
		Text:       resp.TranslatedText,
		Provider:   resp.Provider,
		DurationMs: resp.DurationMs(),
		Attempts:   resp.Attempts,
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": s.providers,
	})
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := toErrorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("status", status).Warn("Translation request failed")
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}

func toErrorResponse(err error) (int, errorResponse) {
	var exhausted *translator.ExhaustedError
	var he *echo.HTTPError

	switch {
	case errors.As(err, &exhausted):
		status := http.StatusBadGateway
		if exhausted.AllTimeouts() {
			status = http.StatusGatewayTimeout
		}
		return status, errorResponse{Error: errorDetail{
			Type:     "exhausted",
			Message:  exhausted.Error(),
			Attempts: exhausted.Attempts,
		}}

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorResponse{Error: errorDetail{
			Type:    "timeout",
			Message: "translation did not finish within the request timeout",
		}}

	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, errorResponse{Error: errorDetail{
			Type:    "canceled",
			Message: "request canceled",
		}}

	case errors.As(err, &he):
		message := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok && strings.TrimSpace(m) != "" {
			message = m
		}
		return he.Code, errorResponse{Error: errorDetail{
			Type:    httpErrorType(he.Code),
			Message: message,
		}}

	default:
		return http.StatusInternalServerError, errorResponse{Error: errorDetail{
			Type:    "internal",
			Message: "internal server error",
		}}
	}
}

func httpErrorType(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	default:
		return "http_error"
	}
}
