// Package server is the HTTP adapter over the search service. It contains
// no logic of its own beyond request decoding and error mapping.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apiscout/apiscout/config"
	"github.com/apiscout/apiscout/internal/details"
	"github.com/apiscout/apiscout/internal/openapi"
	"github.com/apiscout/apiscout/internal/service"
	"github.com/apiscout/apiscout/internal/session"
)

// Run builds the service from cfg and serves the HTTP API until the
// process exits.
func Run(cfg *config.Config) error {
	logger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	svc, err := service.New(cfg, log.Default(), nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	e := New(svc, logger)
	return e.Start(cfg.Server.Address)
}

// New assembles the echo instance with all routes registered.
func New(svc *service.Service, logger *log.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = errorHandler(logger)

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	h := &handler{svc: svc}
	api := e.Group("/api")
	api.POST("/sessions", h.configureSession)
	api.GET("/search", h.search)
	api.POST("/details", h.getDetails)
	api.GET("/suggestions", h.suggestions)
	api.GET("/stats", h.stats)
	api.DELETE("/cache", h.clearCache)
	return e
}

type handler struct {
	svc *service.Service
}

type sessionRequest struct {
	ID         string             `json:"id"`
	SourceURLs []string           `json:"source_urls"`
	Headers    map[string]string  `json:"headers,omitempty"`
	TTLSeconds int                `json:"ttl_seconds,omitempty"`
	RateLimit  *session.RateLimit `json:"rate_limit,omitempty"`
}

func (h *handler) configureSession(c echo.Context) error {
	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cfg := session.Config{
		SourceURLs: req.SourceURLs,
		Headers:    req.Headers,
		RateLimit:  req.RateLimit,
	}
	if req.TTLSeconds > 0 {
		cfg.CacheTTL = time.Duration(req.TTLSeconds) * time.Second
	}
	sess, err := h.svc.ConfigureSession(req.ID, cfg)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *handler) search(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	resp, err := h.svc.Search(c.Request().Context(), service.SearchRequest{
		SourceURL: c.QueryParam("source"),
		SessionID: c.QueryParam("session"),
		Type:      c.QueryParam("type"),
		Query:     c.QueryParam("q"),
		Methods:   splitParam(c.QueryParam("methods")),
		Limit:     limit,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

type detailsRequest struct {
	SourceURL string   `json:"source_url"`
	SessionID string   `json:"session_id"`
	Paths     []string `json:"paths"`
	Methods   []string `json:"methods,omitempty"`
}

func (h *handler) getDetails(c echo.Context) error {
	var req detailsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	resp, err := h.svc.GetDetails(c.Request().Context(), service.DetailsRequest{
		SourceURL: req.SourceURL,
		SessionID: req.SessionID,
		Paths:     req.Paths,
		Methods:   req.Methods,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handler) suggestions(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	resp, err := h.svc.GetSuggestions(c.Request().Context(),
		c.QueryParam("source"), c.QueryParam("session"), c.QueryParam("partial"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handler) stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.GetStats(c.QueryParam("session")))
}

func (h *handler) clearCache(c echo.Context) error {
	cleared := h.svc.ClearCache(c.QueryParam("source"), c.QueryParam("session"))
	return c.JSON(http.StatusOK, map[string]int{"cleared": cleared})
}

// errorHandler maps the service error taxonomy onto HTTP statuses and logs
// every failure with its route.
func errorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()

		var httpErr *echo.HTTPError
		var upstream *service.UpstreamError
		switch {
		case errors.As(err, &httpErr):
			code = httpErr.Code
			msg = fmt.Sprint(httpErr.Message)
		case errors.Is(err, service.ErrInvalidSession):
			code = http.StatusNotFound
		case errors.Is(err, details.ErrNotFound):
			code = http.StatusNotFound
		case errors.Is(err, service.ErrInvalidQuery):
			code = http.StatusBadRequest
		case errors.Is(err, openapi.ErrInvalidDocument):
			code = http.StatusBadGateway
		case errors.As(err, &upstream):
			code = http.StatusBadGateway
			if upstream.Timeout() || errors.Is(err, context.DeadlineExceeded) {
				code = http.StatusGatewayTimeout
			}
		}

		req := c.Request()
		logger.Printf("%d %s %s: %v", code, req.Method, req.URL.Path, err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]string{"error": msg})
		}
	}
}

func splitParam(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
