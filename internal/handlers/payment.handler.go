package handlers

import (
	"context"
	"strings"

	"github.com/fasthttp/router"
	"github.com/nimasrn/number-market/internal/model"
	xhttp "github.com/nimasrn/number-market/pkg/http"
	"github.com/nimasrn/number-market/pkg/logger"
)

// CallbackQueue accepts provider callbacks for asynchronous settlement.
type CallbackQueue interface {
	Enqueue(ctx context.Context, cb model.ProviderCallback) (string, error)
}

type PaymentHandler struct {
	queue  CallbackQueue
	secret []byte
}

func RegisterPaymentRoutes(e *router.Group, h *PaymentHandler) {
	e.POST("/payments/callback", h.Callback)
}

// NewPaymentHandler accepts callbacks signed with secret. With an empty
// secret every callback is refused.
func NewPaymentHandler(queue CallbackQueue, secret string) *PaymentHandler {
	return &PaymentHandler{queue: queue, secret: []byte(secret)}
}

type callbackResponse struct {
	Accepted bool   `json:"accepted"`
	EntryID  string `json:"entry_id"`
}

func (h *PaymentHandler) Callback(ctx *xhttp.RequestCtx) {
	if err := VerifyCallback(h.secret, ctx.PostBody(), string(ctx.Request.Header.Peek(SignatureHeader))); err != nil {
		logger.Warn("callback signature rejected", "remote", ctx.RemoteIP().String(), "error", err)
		writeError(ctx, xhttp.StatusUnauthorized, "invalid callback signature")
		return
	}

	var cb model.ProviderCallback
	if err := readJSON(ctx, &cb); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	cb.PaymentID = strings.TrimSpace(cb.PaymentID)
	if cb.PaymentID == "" {
		writeError(ctx, xhttp.StatusBadRequest, "payment_id is required")
		return
	}
	if cb.Status != model.ProviderStatusSucceeded && cb.Status != model.ProviderStatusFailed {
		writeError(ctx, xhttp.StatusBadRequest, "status must be succeeded or failed")
		return
	}

	id, err := h.queue.Enqueue(ctx, cb)
	if err != nil {
		logger.Error("failed to enqueue callback", "payment_id", cb.PaymentID, "error", err)
		writeError(ctx, xhttp.StatusServiceUnavailable, "callback not accepted, retry later")
		return
	}
	writeJSON(ctx, xhttp.StatusAccepted, callbackResponse{Accepted: true, EntryID: id})
}
