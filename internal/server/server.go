package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	chart "github.com/wcharczuk/go-chart/v2"

	"aurumpulse/internal/config"
	"aurumpulse/internal/messaging"
	"aurumpulse/internal/service"
	"aurumpulse/internal/storage"
)

// Workflows is the slice of the service layer the HTTP surface invokes.
type Workflows interface {
	CheckPrice(ctx context.Context) (*service.CheckResult, error)
	VerifySubscription(ctx context.Context, phone string) (storage.Subscriber, messaging.DeliveryResult, error)
}

// Server exposes manual triggers and subscriber management over HTTP.
type Server struct {
	engine      *gin.Engine
	workflows   Workflows
	subscribers storage.SubscriberStore
	readings    storage.ReadingStore
	logger      zerolog.Logger
}

// New constructs the HTTP surface and registers all routes.
func New(cfg config.ServerConfig, workflows Workflows, subscribers storage.SubscriberStore, readings storage.ReadingStore, logger zerolog.Logger) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	s := &Server{
		engine:      gin.New(),
		workflows:   workflows,
		subscribers: subscribers,
		readings:    readings,
		logger:      logger.With().Str("component", "http_server").Logger(),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

// Handler exposes the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/", s.landing)

	api := s.engine.Group("/api")
	{
		api.POST("/users", s.registerUser)
		api.GET("/users/status/:phone", s.userStatus)
		api.POST("/subscription/check", s.subscriptionCheck)

		// The manual trigger is offered on both verbs; an earlier client
		// relied on GET.
		api.POST("/gold-price", s.checkGoldPrice)
		api.GET("/gold-price", s.checkGoldPrice)
		api.GET("/gold-price/history", s.priceHistory)
		api.GET("/gold-price/chart", s.priceChart)
	}
}

func (s *Server) landing(c *gin.Context) {
	c.String(http.StatusOK, "AurumPulse gold price monitoring service is running.")
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

// registerUser registers a phone or returns the existing subscriber.
// POST /api/users
func (s *Server) registerUser(c *gin.Context) {
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "phone is required"})
		return
	}

	sub, err := s.subscribers.UpsertSubscriber(c.Request.Context(), req.Phone)
	if err != nil {
		s.logger.Error().Err(err).Msg("register subscriber failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to register user"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "User added. Ask user to join the WhatsApp sandbox.",
		"user":    sub,
	})
}

// userStatus reports the active/verified flags for a phone.
// GET /api/users/status/:phone
func (s *Server) userStatus(c *gin.Context) {
	phone := c.Param("phone")

	sub, err := s.subscribers.GetSubscriber(c.Request.Context(), phone)
	if err != nil {
		if errors.Is(err, storage.ErrSubscriberNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "user not found"})
			return
		}
		s.logger.Error().Err(err).Msg("subscriber lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to fetch user"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"isActive":   sub.IsActive,
		"isVerified": sub.IsVerified,
	})
}

// subscriptionCheck probes delivery to a phone and toggles its active flag.
// POST /api/subscription/check
func (s *Server) subscriptionCheck(c *gin.Context) {
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "phone is required"})
		return
	}

	sub, res, err := s.workflows.VerifySubscription(c.Request.Context(), req.Phone)
	if err != nil {
		if errors.Is(err, storage.ErrSubscriberNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "user not found"})
			return
		}
		s.logger.Error().Err(err).Msg("subscription check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	if !res.Success {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "reason": res.Reason})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "user": sub})
}

// checkGoldPrice runs the price check workflow synchronously.
// POST /api/gold-price (also GET)
func (s *Server) checkGoldPrice(c *gin.Context) {
	result, err := s.workflows.CheckPrice(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("manual price check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"currentPrice":  result.CurrentPrice,
		"previousPrice": result.PreviousPrice,
		"priceDiff":     result.PriceDiff,
		"alertSent":     result.AlertSent,
		"source":        result.Source,
	})
}

// priceHistory lists recent readings, newest first.
// GET /api/gold-price/history?limit=
func (s *Server) priceHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "24"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "limit must be a positive integer"})
		return
	}
	if limit > 500 {
		limit = 500
	}

	readings, err := s.readings.ListRecentReadings(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list readings failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to fetch history"})
		return
	}

	items := make([]gin.H, 0, len(readings))
	for _, r := range readings {
		items = append(items, gin.H{
			"priceGram24k": r.PriceGram24,
			"priceOunce":   r.PriceOunce,
			"currency":     r.Currency,
			"metal":        r.Metal,
			"change":       r.Change,
			"alertSent":    r.AlertSent,
			"createdAt":    r.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(items), "readings": items})
}

// priceChart renders the gram-24k history of the last N days as PNG.
// GET /api/gold-price/chart?days=
func (s *Server) priceChart(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "days must be a positive integer"})
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)

	readings, err := s.readings.ListReadingsBetween(c.Request.Context(), from, to)
	if err != nil {
		s.logger.Error().Err(err).Msg("list readings failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to fetch history"})
		return
	}
	if len(readings) < 2 {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not enough data to chart"})
		return
	}

	var buf bytes.Buffer
	if err := renderPriceChart(&buf, readings); err != nil {
		s.logger.Error().Err(err).Msg("chart rendering failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "chart rendering failed"})
		return
	}

	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func renderPriceChart(buf *bytes.Buffer, readings []storage.GoldReading) error {
	x := make([]time.Time, len(readings))
	gram24 := make([]float64, len(readings))
	for i, r := range readings {
		x[i] = r.CreatedAt
		gram24[i] = r.PriceGram24.InexactFloat64()
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "24k gram price",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Gold 24k",
				XValues: x,
				YValues: gram24,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, buf)
}
