package command

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/pkg/logger"
)

// SaveCredentialCommand replaces the settings of one gateway. Empty secrets
// keep the stored ones so an admin can toggle Active without resending them.
type SaveCredentialCommand struct {
	Gateway       domain.Gateway
	Active        bool
	APIKey        string
	APISecret     string
	WebhookSecret string
	MerchantID    string
	Sandbox       bool
	FeePercent    decimal.Decimal
	Extra         map[string]any
}

// SaveCredentialHandler handles save credential command
type SaveCredentialHandler struct {
	credentials domain.CredentialRepository
}

// NewSaveCredentialHandler creates a new save credential handler
func NewSaveCredentialHandler(credentials domain.CredentialRepository) *SaveCredentialHandler {
	return &SaveCredentialHandler{credentials: credentials}
}

// Handle executes the save credential command
func (h *SaveCredentialHandler) Handle(ctx context.Context, cmd SaveCredentialCommand) (*domain.GatewayCredential, error) {
	if cmd.FeePercent.IsNegative() || cmd.FeePercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return nil, domain.NewValidationError("fee_percent", "must be in [0, 100)")
	}

	cred := &domain.GatewayCredential{
		Gateway:       cmd.Gateway,
		Active:        cmd.Active,
		APIKey:        cmd.APIKey,
		APISecret:     cmd.APISecret,
		WebhookSecret: cmd.WebhookSecret,
		MerchantID:    cmd.MerchantID,
		Sandbox:       cmd.Sandbox,
		FeePercent:    cmd.FeePercent,
	}
	if cmd.Extra != nil {
		cred.Extra = datatypes.JSONMap(cmd.Extra)
	}

	existing, err := h.credentials.Get(ctx, cmd.Gateway)
	switch {
	case err == nil:
		cred.APIKey = firstNonEmpty(cred.APIKey, existing.APIKey)
		cred.APISecret = firstNonEmpty(cred.APISecret, existing.APISecret)
		cred.WebhookSecret = firstNonEmpty(cred.WebhookSecret, existing.WebhookSecret)
		if cred.Extra == nil {
			cred.Extra = existing.Extra
		}
	case !errors.Is(err, domain.ErrCredentialNotFound):
		return nil, err
	}

	if err := h.credentials.Upsert(ctx, cred); err != nil {
		return nil, err
	}

	logger.Info(ctx).
		Str("gateway", string(cred.Gateway)).
		Bool("active", cred.Active).
		Bool("sandbox", cred.Sandbox).
		Msg("Gateway credentials saved")
	return cred, nil
}
