package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterSwaggerDocs registers Swagger documentation routes
// @Summary Swagger documentation
// @Description Swagger API documentation
// @Tags Swagger
// @Success 200 {string} string "Swagger UI"
// @Router /swagger/ [get]
func RegisterSwaggerDocs(router *mux.Router, swaggerHandler http.Handler) {
	router.PathPrefix("/swagger/").Handler(swaggerHandler)
}

// CreatePayment godoc
// @Summary Create a payment
// @Description Start an order, deposit or subscription payment through a gateway (Authenticated users)
// @Tags Payments
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body object{purpose=string,gateway=string,amount=number,currency=string,description=string,success_url=string,cancel_url=string,interval_days=int,auto_renew=bool} true "Payment data"
// @Success 201 {object} object{success=bool,message=string,data=object}
// @Failure 400 {object} object{success=bool,error=string}
// @Failure 401 {object} object{success=bool,error=string}
// @Failure 503 {object} object{success=bool,error=string}
// @Router /api/payments [post]
func (h *PaymentHandler) CreatePaymentDoc() {}

// GetPayment godoc
// @Summary Get payment by ID
// @Description Get a specific payment record by its ID (Admin only)
// @Tags Payments
// @Security BearerAuth
// @Produce json
// @Param id path int true "Payment ID"
// @Success 200 {object} object{success=bool,data=object}
// @Failure 400 {object} object{success=bool,error=string}
// @Failure 403 {object} object{success=bool,error=string}
// @Failure 404 {object} object{success=bool,error=string}
// @Router /api/payments/{id} [get]
func (h *PaymentHandler) GetPaymentDoc() {}

// ListPayments godoc
// @Summary List payments
// @Description List payment records, newest first (Admin only)
// @Tags Payments
// @Security BearerAuth
// @Produce json
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Success 200 {object} object{success=bool,data=object{payments=array,total=int}}
// @Failure 403 {object} object{success=bool,error=string}
// @Failure 500 {object} object{success=bool,error=string}
// @Router /api/payments [get]
func (h *PaymentHandler) ListPaymentsDoc() {}

// UpdatePaymentStatus godoc
// @Summary Update payment status
// @Description Move a payment to a canonical status through the reconciliation coordinator (Admin only)
// @Tags Payments
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "Payment ID"
// @Param request body object{status=string,note=string} true "Status data (pending/confirming/completed/failed/expired/cancelled/refunded)"
// @Success 200 {object} object{success=bool,message=string,data=object}
// @Failure 400 {object} object{success=bool,error=string}
// @Failure 403 {object} object{success=bool,error=string}
// @Failure 404 {object} object{success=bool,error=string}
// @Router /api/payments/{id}/status [patch]
func (h *PaymentHandler) UpdatePaymentStatusDoc() {}

// RefreshPayment godoc
// @Summary Refresh payment status
// @Description Poll the gateway for a payment, bypassing the refresh throttle (Admin only)
// @Tags Payments
// @Security BearerAuth
// @Produce json
// @Param id path int true "Payment ID"
// @Success 200 {object} object{success=bool,data=object{record=object,refreshed=bool,stale=bool}}
// @Failure 403 {object} object{success=bool,error=string}
// @Failure 404 {object} object{success=bool,error=string}
// @Router /api/payments/{id}/refresh [post]
func (h *PaymentHandler) RefreshPaymentDoc() {}

// SaveGatewayCredential godoc
// @Summary Save gateway credentials
// @Description Replace the settings of one gateway; empty secrets keep the stored ones (Admin only)
// @Tags Gateways
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param gateway path string true "Gateway name"
// @Param request body object{active=bool,api_key=string,api_secret=string,webhook_secret=string,merchant_id=string,sandbox=bool,fee_percent=string,extra=object} true "Credential data"
// @Success 200 {object} object{success=bool,message=string,data=object}
// @Failure 400 {object} object{success=bool,error=string}
// @Failure 403 {object} object{success=bool,error=string}
// @Router /api/gateways/{gateway} [put]
func (h *PaymentHandler) SaveGatewayCredentialDoc() {}

// GetMyTransactions godoc
// @Summary Get my balance transactions
// @Description Ledger entries of the authenticated user, newest first
// @Tags Payments
// @Security BearerAuth
// @Produce json
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Success 200 {object} object{success=bool,data=object{transactions=array,total=int}}
// @Failure 401 {object} object{success=bool,error=string}
// @Router /api/me/transactions [get]
func (h *PaymentHandler) GetMyTransactionsDoc() {}

// Webhook godoc
// @Summary Gateway webhook
// @Description Inbound notification from a payment gateway. Unknown payments are acknowledged.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param gateway path string true "Gateway (stripe/cryptomus/paygate/plisio/hoodpay/changenow/nowpayments/volet)"
// @Success 200 {object} object{success=bool,data=object{outcome=string,order_number=string,status=string}}
// @Failure 400 {object} object{success=bool,error=string}
// @Failure 401 {object} object{success=bool,error=string}
// @Failure 404 {object} object{success=bool,error=string}
// @Failure 500 {object} object{success=bool,error=string}
// @Router /webhooks/{gateway} [post]
func (h *PaymentHandler) WebhookDoc() {}

// GetStatus godoc
// @Summary Payment status
// @Description Status by external reference or order number; refreshed from the gateway unless refresh=false
// @Tags Status
// @Produce json
// @Param ref path string true "External reference or order number"
// @Param refresh query bool false "Ask the gateway (default true)"
// @Success 200 {object} object{success=bool,data=object{order_number=string,status=string,refreshed=bool,stale=bool}}
// @Failure 404 {object} object{success=bool,error=string}
// @Failure 429 {object} object{success=bool,error=string}
// @Router /status/{ref} [get]
func (h *PaymentHandler) GetStatusDoc() {}

// RunRenewals godoc
// @Summary Run subscription renewals
// @Description Issue renewal invoices for due subscriptions (shared bearer secret)
// @Tags Internal
// @Security BearerAuth
// @Produce json
// @Param limit query int false "Batch size"
// @Success 200 {object} object{success=bool,data=object{processed=int,succeeded=int,failed=int,errors=array}}
// @Failure 401 {object} object{success=bool,error=string}
// @Router /internal/renewals/run [post]
func (h *PaymentHandler) RunRenewalsDoc() {}

// HealthCheck godoc
// @Summary Health check
// @Description Check service health and database connectivity
// @Tags Health
// @Produce json
// @Success 200 {object} object{success=bool,message=string}
// @Failure 503 {object} object{success=bool,error=string}
// @Router /health [get]
func (h *PaymentHandler) HealthCheckDoc() {}
