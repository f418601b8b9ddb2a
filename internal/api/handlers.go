package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"signaldispatcher/internal/accounts"
	"signaldispatcher/internal/dispatch"
	"signaldispatcher/internal/signal"
)

// Handlers binds the dispatcher and account registry to HTTP routes,
// adapted from the teacher's Handlers (order-manager-backed handlers
// in internal/api/handlers.go), generalized from one Binance account
// to the account registry's named set.
type Handlers struct {
	dispatcher *dispatch.Dispatcher
	registry   *accounts.Registry
	logger     zerolog.Logger
}

func NewHandlers(dispatcher *dispatch.Dispatcher, registry *accounts.Registry, logger zerolog.Logger) *Handlers {
	return &Handlers{dispatcher: dispatcher, registry: registry, logger: logger}
}

// EnqueueSignal handles POST /signals/enqueue/:account (spec §6).
func (h *Handlers) EnqueueSignal(c *gin.Context) {
	account := c.Param("account")
	if _, ok := h.registry.Get(account); !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "AccountNotFound",
			Message:   "unknown account: " + account,
			RequestID: c.GetString("request_id"),
		})
		return
	}

	var sig signal.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:     "ValidationError",
			Message:   "malformed signal",
			Details:   []signal.FieldError{{Path: "body", Message: err.Error()}},
			RequestID: c.GetString("request_id"),
		})
		return
	}

	sig.ApplyDefaults(time.Now())
	if err := sig.Validate(); err != nil {
		if verr, ok := err.(*signal.ValidationError); ok {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				Error:     "ValidationError",
				Message:   "signal failed validation",
				Details:   verr.Details,
				RequestID: c.GetString("request_id"),
			})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:     "ValidationError",
			Message:   err.Error(),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	h.dispatcher.Enqueue(account, sig)
	h.logger.Info().Str("account", account).Str("signal_id", sig.ID).Str("instrument", sig.Instrument.String()).Msg("signal enqueued")

	c.JSON(http.StatusAccepted, EnqueueAccepted{
		Status:  "accepted",
		Account: account,
		Signal:  sig,
	})
}

// QueueSnapshot handles GET /signals/queue (spec §6).
func (h *Handlers) QueueSnapshot(c *gin.Context) {
	snap := h.dispatcher.Snapshot()

	resp := QueueSnapshot{
		Processing: make([]QueueItem, 0, len(snap.Processing)),
		Waiting:    make([]QueueItem, 0, len(snap.Waiting)),
	}
	for _, q := range snap.Processing {
		resp.Processing = append(resp.Processing, QueueItem{Signal: q.Signal, Account: q.Account})
	}
	for _, q := range snap.Waiting {
		resp.Waiting = append(resp.Waiting, QueueItem{Signal: q.Signal, Account: q.Account})
	}
	c.JSON(http.StatusOK, resp)
}

// Healthz handles GET /healthz (spec §6) — liveness only, no dependency checks.
func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz handles GET /readyz — readiness, probing every configured
// account's adapter, grounded on the teacher's ReadyzHandler.
func (h *Handlers) Readyz(c *gin.Context) {
	failures := h.registry.CheckReady(c.Request.Context())
	if len(failures) == 0 {
		c.JSON(http.StatusOK, ReadyResponse{Status: "ready"})
		return
	}

	accountsStatus := make(map[string]string, len(failures))
	for name, err := range failures {
		accountsStatus[name] = err.Error()
	}
	c.JSON(http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Accounts: accountsStatus})
}
