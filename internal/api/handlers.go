package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sidrisov/payflow/internal/frame"
	"github.com/sidrisov/payflow/internal/models"
)

// stepFunc is one wizard step keyed by a validated event.
type stepFunc func(ctx context.Context, ev *frame.InteractionEvent) (*frame.StepResult, error)

// stepHandler validates the raw signed event and runs one wizard step.
// The response is a frame HTML document, or a JSON chain-call descriptor
// when the step yields a transaction.
func (r *Router) stepHandler(step stepFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		ev, err := r.validator.Validate(c.Request.Context(), raw)
		if err != nil {
			r.renderValidationFailure(c, err)
			return
		}

		res, err := step(c.Request.Context(), ev)
		if err != nil {
			r.logger.Error("Wizard step failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "step failed"})
			return
		}

		r.renderStep(c, res)
	}
}

// entryHandler opens the wizard for paying the identity in the path.
func (r *Router) entryHandler(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if _, err := r.validator.Validate(c.Request.Context(), raw); err != nil {
		r.renderValidationFailure(c, err)
		return
	}

	f, err := r.wizard.Entry(c.Request.Context(), c.Param("identity"), c.Query("category"))
	if err != nil {
		r.logger.Error("Wizard entry failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "entry failed"})
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(f.HTML()))
}

func (r *Router) renderStep(c *gin.Context, res *frame.StepResult) {
	if res.Tx != nil {
		c.JSON(http.StatusOK, res.Tx)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(res.Frame.HTML()))
}

// renderValidationFailure maps validation errors to a safe default view.
// Invalid signatures get 200 with an error frame so feed clients render
// something; unverifiable events get 503 so the client retries.
func (r *Router) renderValidationFailure(c *gin.Context, err error) {
	if errors.Is(err, frame.ErrInvalidEvent) {
		r.logger.Warn("Rejected unauthenticated frame event")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid event"})
		return
	}
	r.logger.Error("Event validation unavailable", zap.Error(err))
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "validation unavailable"})
}

// webhookPayload is the inbound mention notification: the triggering cast
// wrapped in an event envelope. Data is kept raw so the full cast
// snapshot (mentions, parent, embeds) survives into the job.
type webhookPayload struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type castHeader struct {
	Hash   string `json:"hash"`
	Author struct {
		FID      int64  `json:"fid"`
		Username string `json:"username"`
	} `json:"author"`
}

// webhookHandler ingests one bot mention as a BotJob. Duplicate content
// ids are a no-op: ingestion is idempotent on the cast hash.
func (r *Router) webhookHandler(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}
	var header castHeader
	if err := json.Unmarshal(payload.Data, &header); err != nil || header.Hash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed cast"})
		return
	}

	job := &models.BotJob{
		CastHash:    header.Hash,
		CasterFID:   header.Author.FID,
		Status:      models.BotJobStatusCreated,
		CastJSON:    string(payload.Data),
		CreatedDate: time.Now().UTC(),
	}

	created, err := r.jobs.Ingest(c.Request.Context(), job)
	if err != nil {
		r.logger.Error("Job ingestion failed",
			zap.String("cast_hash", job.CastHash), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion failed"})
		return
	}

	if created {
		r.waker.Kick()
		c.JSON(http.StatusOK, gin.H{"status": "created", "cast_hash": job.CastHash})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "duplicate", "cast_hash": job.CastHash})
}
