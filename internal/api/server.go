// Package api exposes the campaign manager over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/BetterCallFirewall/Intruder/internal/driven"
	"github.com/BetterCallFirewall/Intruder/internal/models"
	"github.com/BetterCallFirewall/Intruder/internal/payloads"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	defaultPageSize = 500
	maxPageSize     = 10_000
)

// CampaignService is the part of the campaign manager the API needs
type CampaignService interface {
	CreateCampaign(ctx context.Context, d driven.Draft) (*models.Campaign, error)
	Start(ctx context.Context, id string) (*models.Campaign, error)
	Pause(ctx context.Context, id string) (*models.Campaign, error)
	Resume(ctx context.Context, id string) (*models.Campaign, error)
	StopCampaign(ctx context.Context, id string) (*models.Campaign, error)
	Get(ctx context.Context, id string) (*models.Campaign, error)
	List(ctx context.Context) ([]*models.Campaign, error)
	Progress(ctx context.Context, id string) (models.CampaignProgress, error)
	Results(ctx context.Context, id string, filter models.ResultFilter) ([]*models.CampaignResult, error)
	Catalog() *payloads.Catalog
}

// Server handles the campaign API
type Server struct {
	campaigns  CampaignService
	ws         http.Handler
	router     *gin.Engine
	httpServer *http.Server
	log        *logrus.Entry
}

// New creates the API server. ws may be nil, then /ws is not served.
func New(campaigns CampaignService, ws http.Handler, log *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		campaigns: campaigns,
		ws:        ws,
		log:       log.WithField("component", "api"),
	}
	s.setupRouter()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRouter() {
	s.router = gin.New()
	s.router.Use(gin.Recovery(), s.requestLogger())

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		campaigns := api.Group("/campaigns")
		campaigns.POST("", s.handleCreate)
		campaigns.GET("", s.handleList)
		campaigns.GET("/:id", s.handleGet)
		campaigns.POST("/:id/start", s.handleControl(s.campaigns.Start))
		campaigns.POST("/:id/pause", s.handleControl(s.campaigns.Pause))
		campaigns.POST("/:id/resume", s.handleControl(s.campaigns.Resume))
		campaigns.POST("/:id/stop", s.handleControl(s.campaigns.StopCampaign))
		campaigns.GET("/:id/progress", s.handleProgress)
		campaigns.GET("/:id/results", s.handleResults)

		api.GET("/payloads/catalog", s.handleCatalog)
	}

	if s.ws != nil {
		s.router.GET("/ws", gin.WrapH(s.ws))
	}
}

// Handler returns the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and blocks until the server stops
func (s *Server) Start(addr string) error {
	s.httpServer.Addr = addr
	s.log.WithField("addr", addr).Info("API listening")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("Request handled")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCreate(c *gin.Context) {
	// browsers send text/plain cross-origin without a preflight
	if c.ContentType() != gin.MIMEJSON {
		c.JSON(http.StatusUnsupportedMediaType, models.ErrorResponse{Error: "content type must be application/json", Kind: "config"})
		return
	}

	var draft driven.Draft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Kind: "config"})
		return
	}

	campaign, err := s.campaigns.CreateCampaign(c.Request.Context(), draft)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.NewCampaignDTO(campaign))
}

func (s *Server) handleList(c *gin.Context) {
	list, err := s.campaigns.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	out := make([]models.CampaignDTO, 0, len(list))
	for _, campaign := range list {
		out = append(out, models.NewCampaignDTO(campaign))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGet(c *gin.Context) {
	campaign, err := s.campaigns.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewCampaignDTO(campaign))
}

func (s *Server) handleControl(op func(ctx context.Context, id string) (*models.Campaign, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		campaign, err := op(c.Request.Context(), c.Param("id"))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.NewCampaignDTO(campaign))
	}
}

func (s *Server) handleProgress(c *gin.Context) {
	progress, err := s.campaigns.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (s *Server) handleResults(c *gin.Context) {
	var filter models.ResultFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Kind: "config"})
		return
	}
	if filter.Limit < 0 || filter.Offset < 0 || filter.MinLength < 0 || filter.MaxLength < 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "filters must not be negative", Kind: "config"})
		return
	}
	if filter.Limit == 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}

	id := c.Param("id")
	results, err := s.campaigns.Results(c.Request.Context(), id, filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if results == nil {
		results = []*models.CampaignResult{}
	}
	c.JSON(http.StatusOK, models.ResultsPage{
		CampaignID: id,
		Count:      len(results),
		Filter:     filter,
		Results:    results,
	})
}

func (s *Server) handleCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, s.campaigns.Catalog().Entries())
}

// writeError maps engine errors to status codes: configuration 400, unknown campaign 404, invalid transition 409
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case models.IsConfigError(err):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Kind: "config"})
	case errors.Is(err, models.ErrCampaignNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error(), Kind: "not_found"})
	case errors.Is(err, models.ErrInvalidTransition):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error(), Kind: "conflict"})
	default:
		s.log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error(), Kind: "internal"})
	}
}
