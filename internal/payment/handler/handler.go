package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/internal/payment/usecase/command"
	"github.com/tair/reseller-billing/internal/payment/usecase/query"
	"github.com/tair/reseller-billing/pkg/logger"
	"github.com/tair/reseller-billing/pkg/ratelimit"
)

// Secrets authenticates callers of the protected routes
type Secrets struct {
	JWT     []byte
	Renewal string
}

// PaymentHandler handles HTTP requests for payments using CQRS pattern
type PaymentHandler struct {
	// Command handlers
	createHandler  *command.CreatePaymentHandler
	webhookHandler *command.ProcessWebhookHandler
	refreshHandler *command.RefreshStatusHandler
	updateHandler  *command.UpdateStatusHandler
	renewHandler   *command.RenewSubscriptionsHandler
	credsHandler   *command.SaveCredentialHandler

	// Query handlers
	getHandler          *query.GetPaymentHandler
	listHandler         *query.ListPaymentsHandler
	transactionsHandler *query.ListTransactionsHandler

	secrets     Secrets
	statusLimit *ratelimit.RateLimiter
}

// NewPaymentHandlerWithDI creates a new payment handler using dependency injection
func NewPaymentHandlerWithDI(
	createHandler *command.CreatePaymentHandler,
	webhookHandler *command.ProcessWebhookHandler,
	refreshHandler *command.RefreshStatusHandler,
	updateHandler *command.UpdateStatusHandler,
	renewHandler *command.RenewSubscriptionsHandler,
	credsHandler *command.SaveCredentialHandler,
	getHandler *query.GetPaymentHandler,
	listHandler *query.ListPaymentsHandler,
	transactionsHandler *query.ListTransactionsHandler,
	secrets Secrets,
	statusLimit *ratelimit.RateLimiter,
) *PaymentHandler {
	return &PaymentHandler{
		createHandler:       createHandler,
		webhookHandler:      webhookHandler,
		refreshHandler:      refreshHandler,
		updateHandler:       updateHandler,
		renewHandler:        renewHandler,
		credsHandler:        credsHandler,
		getHandler:          getHandler,
		listHandler:         listHandler,
		transactionsHandler: transactionsHandler,
		secrets:             secrets,
		statusLimit:         statusLimit,
	}
}

type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CreatePayment handles POST /api/payments
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Purpose      string          `json:"purpose"`
		Gateway      string          `json:"gateway"`
		Amount       decimal.Decimal `json:"amount"`
		Currency     string          `json:"currency"`
		Description  string          `json:"description"`
		SuccessURL   string          `json:"success_url"`
		CancelURL    string          `json:"cancel_url"`
		IntervalDays int             `json:"interval_days"`
		AutoRenew    bool            `json:"auto_renew"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	gw, err := domain.ParseGateway(req.Gateway)
	if err != nil {
		respondError(w, err)
		return
	}

	ctx := r.Context()
	claims := claimsFrom(ctx)
	userID := claims.UserID
	purpose := domain.Purpose(req.Purpose)
	if purpose == "" {
		purpose = domain.PurposeOrder
	}

	record, err := h.createHandler.Handle(ctx, command.CreatePaymentCommand{
		UserID:        &userID,
		Purpose:       purpose,
		Gateway:       gw,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Description:   req.Description,
		CustomerEmail: claims.Email,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
		IntervalDays:  req.IntervalDays,
		AutoRenew:     req.AutoRenew,
	})
	if err != nil {
		logger.Error(ctx).Err(err).Str("gateway", string(gw)).Msg("Failed to create payment")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, Response{
		Success: true,
		Message: "Payment created successfully",
		Data:    record,
	})
}

// GetPayment handles GET /api/payments/{id}
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	record, err := h.getHandler.Handle(r.Context(), query.GetPaymentQuery{ID: id})
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    record,
	})
}

// ListPayments handles GET /api/payments
func (h *PaymentHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := h.listHandler.Handle(r.Context(), query.ListPaymentsQuery{Limit: limit, Offset: offset})
	if err != nil {
		logger.Error(r.Context()).Err(err).Msg("Failed to list payments")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"payments": records,
			"total":    len(records),
		},
	})
}

// UpdatePaymentStatus handles PATCH /api/payments/{id}/status
func (h *PaymentHandler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	res, err := h.updateHandler.Handle(r.Context(), command.UpdateStatusCommand{
		PaymentID: id,
		Status:    req.Status,
		AdminID:   claimsFrom(r.Context()).UserID,
		Note:      req.Note,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	message := "Payment status updated successfully"
	if !res.Applied {
		message = "Payment status unchanged"
	}
	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: message,
		Data:    res.Record,
	})
}

// RefreshPayment handles POST /api/payments/{id}/refresh
func (h *PaymentHandler) RefreshPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	record, err := h.getHandler.Handle(r.Context(), query.GetPaymentQuery{ID: id})
	if err != nil {
		respondError(w, err)
		return
	}

	view, err := h.refreshHandler.Handle(r.Context(), command.RefreshStatusCommand{Reference: record.OrderNumber, Force: true})
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    view,
	})
}

// SaveGatewayCredential handles PUT /api/gateways/{gateway}
func (h *PaymentHandler) SaveGatewayCredential(w http.ResponseWriter, r *http.Request) {
	gw, err := domain.ParseGateway(mux.Vars(r)["gateway"])
	if err != nil {
		respondError(w, err)
		return
	}

	var req struct {
		Active        bool            `json:"active"`
		APIKey        string          `json:"api_key"`
		APISecret     string          `json:"api_secret"`
		WebhookSecret string          `json:"webhook_secret"`
		MerchantID    string          `json:"merchant_id"`
		Sandbox       bool            `json:"sandbox"`
		FeePercent    decimal.Decimal `json:"fee_percent"`
		Extra         map[string]any  `json:"extra"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	cred, err := h.credsHandler.Handle(r.Context(), command.SaveCredentialCommand{
		Gateway:       gw,
		Active:        req.Active,
		APIKey:        req.APIKey,
		APISecret:     req.APISecret,
		WebhookSecret: req.WebhookSecret,
		MerchantID:    req.MerchantID,
		Sandbox:       req.Sandbox,
		FeePercent:    req.FeePercent,
		Extra:         req.Extra,
	})
	if err != nil {
		logger.Error(r.Context()).Err(err).Str("gateway", string(gw)).Msg("Failed to save gateway credentials")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Gateway credentials saved",
		Data:    cred,
	})
}

// GetMyTransactions handles GET /api/me/transactions
func (h *PaymentHandler) GetMyTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	txns, err := h.transactionsHandler.Handle(r.Context(), query.ListTransactionsQuery{
		UserID: claimsFrom(r.Context()).UserID,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"transactions": txns,
			"total":        len(txns),
		},
	})
}

// GetMiddlewareConfig returns middleware configuration
func (h *PaymentHandler) GetMiddlewareConfig() MiddlewareConfig {
	return DefaultMiddlewareConfig(h.secrets)
}

// RegisterRoutes registers all payment routes
func (h *PaymentHandler) RegisterRoutes(router *mux.Router) {
	middlewareConfig := h.GetMiddlewareConfig()

	// Gateway callbacks; PayGate and Volet deliver theirs as GET
	router.HandleFunc("/webhooks/{gateway}", h.Webhook).Methods("POST")
	router.HandleFunc("/webhooks/{gateway:paygate|volet}", h.Webhook).Methods("GET")

	// Public status poll, rate limited per client
	router.Handle("/status/{ref}", h.statusLimit.Middleware(http.HandlerFunc(h.GetStatus))).Methods("GET")

	// Scheduler trigger
	router.HandleFunc("/internal/renewals/run", middlewareConfig.GetRenewalMiddleware()(h.RunRenewals)).Methods("POST")

	// Authenticated user routes (any logged-in user)
	router.HandleFunc("/api/payments", middlewareConfig.GetAuthMiddleware()(h.CreatePayment)).Methods("POST")
	router.HandleFunc("/api/me/transactions", middlewareConfig.GetAuthMiddleware()(h.GetMyTransactions)).Methods("GET")

	// Admin routes (require admin role)
	router.HandleFunc("/api/payments", middlewareConfig.GetAdminMiddleware()(h.ListPayments)).Methods("GET")
	router.HandleFunc("/api/payments/{id}", middlewareConfig.GetAdminMiddleware()(h.GetPayment)).Methods("GET")
	router.HandleFunc("/api/payments/{id}/status", middlewareConfig.GetAdminMiddleware()(h.UpdatePaymentStatus)).Methods("PATCH")
	router.HandleFunc("/api/payments/{id}/refresh", middlewareConfig.GetAdminMiddleware()(h.RefreshPayment)).Methods("POST")
	router.HandleFunc("/api/gateways/{gateway}", middlewareConfig.GetAdminMiddleware()(h.SaveGatewayCredential)).Methods("PUT")
}

// Pinger reports database reachability
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RegisterHealthCheck registers health check endpoint
func (h *PaymentHandler) RegisterHealthCheck(router *mux.Router, db Pinger) {
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, Response{
				Success: false,
				Error:   "Database unavailable",
			})
			return
		}

		respondJSON(w, http.StatusOK, Response{
			Success: true,
			Message: "Payment service is healthy",
		})
	}).Methods("GET")
}

func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil || id == 0 {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid payment ID",
		})
		return 0, false
	}
	return uint(id), true
}

// statusCode maps domain errors onto HTTP statuses
func statusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRecordNotFound), errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrGatewayInactive), errors.Is(err, domain.ErrCredentialNotFound),
		errors.Is(err, domain.ErrUnsupported), errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(w http.ResponseWriter, err error) {
	status := statusCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal error, please retry"
	}
	respondJSON(w, status, Response{
		Success: false,
		Error:   message,
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
