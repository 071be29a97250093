package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/internal/payment/gateway"
	"github.com/tair/reseller-billing/internal/payment/metrics"
	"github.com/tair/reseller-billing/internal/payment/usecase/command"
	"github.com/tair/reseller-billing/pkg/logger"
)

const maxWebhookBody = 1 << 20

// Webhook handles POST /webhooks/{gateway} and the GET callbacks of PayGate and Volet.
// Everything short of a bad payload, a bad signature or a failed write is acknowledged
// with 200 so providers stop redelivering.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["gateway"]

	gw, err := domain.ParseGateway(name)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues("unknown", "unknown_gateway").Inc()
		respondJSON(w, http.StatusNotFound, Response{
			Success: false,
			Error:   "Unknown gateway",
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(string(gw), "bad_request").Inc()
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Unreadable request body",
		})
		return
	}

	result, err := h.webhookHandler.Handle(ctx, command.ProcessWebhookCommand{
		Gateway: gw,
		Request: &gateway.WebhookRequest{
			Method: r.Method,
			Header: r.Header,
			Query:  r.URL.Query(),
			Body:   body,
		},
	})
	if err != nil {
		status := statusCode(err)
		metrics.WebhooksReceived.WithLabelValues(string(gw), webhookErrorOutcome(status)).Inc()
		if status >= http.StatusInternalServerError {
			logger.Error(ctx).Err(err).Str("gateway", string(gw)).Msg("Webhook processing failed")
		}
		respondError(w, err)
		return
	}

	metrics.WebhooksReceived.WithLabelValues(string(gw), result.Outcome).Inc()

	data := map[string]interface{}{"outcome": result.Outcome}
	if result.Record != nil {
		data["order_number"] = result.Record.OrderNumber
		data["status"] = result.Record.Status
	}
	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

func webhookErrorOutcome(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "invalid_signature"
	case http.StatusBadRequest:
		return "invalid_payload"
	case http.StatusServiceUnavailable:
		return "gateway_disabled"
	}
	return "error"
}

// GetStatus handles GET /status/{ref}. The gateway is asked for a fresh status unless
// refresh=false; when it cannot answer the stored status is served.
func (h *PaymentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]
	refresh := true
	if v := r.URL.Query().Get("refresh"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			refresh = parsed
		}
	}

	view, err := h.refreshHandler.Handle(r.Context(), command.RefreshStatusCommand{
		Reference:  ref,
		StoredOnly: !refresh,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrRecordNotFound) {
			logger.Error(r.Context()).Err(err).Str("reference", ref).Msg("Failed to get payment status")
		}
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"order_number": view.Record.OrderNumber,
			"external_ref": view.Record.ExternalRef,
			"gateway":      view.Record.Gateway,
			"status":       view.Record.Status,
			"completed_at": view.Record.CompletedAt,
			"refreshed":    view.Refreshed,
			"stale":        view.Stale,
		},
	})
}

// RunRenewals handles POST /internal/renewals/run
func (h *PaymentHandler) RunRenewals(w http.ResponseWriter, r *http.Request) {
	cmd := command.RenewSubscriptionsCommand{}
	if v := r.URL.Query().Get("limit"); v != "" {
		cmd.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("now"); v != "" {
		now, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, Response{
				Success: false,
				Error:   "now must be RFC3339",
			})
			return
		}
		cmd.Now = now
	}

	summary, err := h.renewHandler.Handle(r.Context(), cmd)
	if err != nil {
		logger.Error(r.Context()).Err(err).Msg("Renewal run failed")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Renewal run finished",
		Data:    summary,
	})
}
