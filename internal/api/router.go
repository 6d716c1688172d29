// Package api exposes the HTTP surface: the frame wizard step endpoints
// and the bot webhook.
package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sidrisov/payflow/internal/frame"
	"github.com/sidrisov/payflow/internal/models"
	"github.com/sidrisov/payflow/pkg/logging"
)

// EventValidator turns raw signed event bytes into trusted events.
type EventValidator interface {
	Validate(ctx context.Context, raw []byte) (*frame.InteractionEvent, error)
}

// WizardSteps is the frame wizard dependency of the router.
type WizardSteps interface {
	Entry(ctx context.Context, receiver, category string) (*frame.FrameResponse, error)
	SelectChain(ctx context.Context, ev *frame.InteractionEvent) (*frame.StepResult, error)
	EnterAmount(ctx context.Context, ev *frame.InteractionEvent) (*frame.StepResult, error)
	Confirm(ctx context.Context, ev *frame.InteractionEvent) (*frame.StepResult, error)
	Comment(ctx context.Context, ev *frame.InteractionEvent) (*frame.StepResult, error)
}

// JobIngester persists inbound bot jobs with at-most-once semantics.
type JobIngester interface {
	Ingest(ctx context.Context, job *models.BotJob) (bool, error)
}

// Waker wakes the bot pipeline for a freshly ingested job.
type Waker interface {
	Kick()
}

// Router sets up API routes
type Router struct {
	validator EventValidator
	wizard    WizardSteps
	jobs      JobIngester
	waker     Waker
	logger    *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(validator EventValidator, wizard WizardSteps, jobs JobIngester, waker Waker) *Router {
	return &Router{
		validator: validator,
		wizard:    wizard,
		jobs:      jobs,
		waker:     waker,
		logger:    logging.WithComponent("api-router"),
	}
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	frames := engine.Group("/api/farcaster/frames/pay")
	frames.POST("/chain", r.stepHandler(r.wizard.SelectChain))
	frames.POST("/amount", r.stepHandler(r.wizard.EnterAmount))
	frames.POST("/confirm", r.stepHandler(r.wizard.Confirm))
	frames.POST("/comment", r.stepHandler(r.wizard.Comment))
	frames.POST("/:identity", r.entryHandler)

	engine.POST("/api/farcaster/webhooks/bot", r.webhookHandler)
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":  "OK",
		"service": "payflow-api",
	})
}
