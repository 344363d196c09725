package handlers

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/nimasrn/number-market/internal/model"
	xhttp "github.com/nimasrn/number-market/pkg/http"
)

type errorResponse struct {
	Error  string         `json:"error"`
	Kind   model.Kind     `json:"kind,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	xhttp.WriteJSON(ctx, status, v)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, errorResponse{Error: msg})
}

// writeDomainError maps a domain error kind to a status code. Anything
// else is reported as an internal error without its text.
func writeDomainError(ctx *xhttp.RequestCtx, err error) {
	var e *model.Error
	if !errors.As(err, &e) {
		writeError(ctx, xhttp.StatusInternalServerError, xhttp.StatusText(xhttp.StatusInternalServerError))
		return
	}
	status := xhttp.StatusBadRequest
	switch e.Kind {
	case model.KindNotFound:
		status = xhttp.StatusNotFound
	case model.KindForbidden:
		status = xhttp.StatusForbidden
	case model.KindAlreadyExists, model.KindNotAvailable:
		status = xhttp.StatusConflict
	case model.KindTransientStore:
		status = xhttp.StatusServiceUnavailable
	case model.KindPaymentFailed, model.KindPaymentExpired, model.KindInsufficientFunds, model.KindAccountUnhealthy:
		status = xhttp.StatusUnprocessable
	}
	writeJSON(ctx, status, errorResponse{Error: e.Message, Kind: e.Kind, Params: e.Params})
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func queryInt(ctx *xhttp.RequestCtx, key string, fallback int) int {
	if n, err := strconv.Atoi(query(ctx, key)); err == nil {
		return n
	}
	return fallback
}
