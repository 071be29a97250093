//go:build wireinject
// +build wireinject

package payment

import (
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/tair/reseller-billing/internal/payment/config"
	"github.com/tair/reseller-billing/internal/payment/handler"
	"github.com/tair/reseller-billing/kafka"
)

// Wire sets
var RepositorySet = wire.NewSet(
	ProvidePaymentRepository,
	ProvideUserRepository,
	ProvideCredentialRepository,
	ProvideCredentialStore,
)

var GatewaySet = wire.NewSet(
	ProvideBreakers,
	ProvideGatewayRegistry,
)

var ReconcileSet = wire.NewSet(
	ProvideEventPublisher,
	ProvideRenewalEventPublisher,
	ProvideDispatcher,
	ProvideCoordinator,
)

var CommandHandlerSet = wire.NewSet(
	ProvideCreatePaymentHandler,
	ProvideProcessWebhookHandler,
	ProvideRefreshStatusHandler,
	ProvideUpdateStatusHandler,
	ProvideRenewSubscriptionsHandler,
	ProvideSaveCredentialHandler,
)

var QueryHandlerSet = wire.NewSet(
	ProvideGetPaymentHandler,
	ProvideListPaymentsHandler,
	ProvideListTransactionsHandler,
)

var AllHandlersSet = wire.NewSet(
	RepositorySet,
	GatewaySet,
	ReconcileSet,
	CommandHandlerSet,
	QueryHandlerSet,
	ProvideSecrets,
	ProvideStatusLimiter,
)

// InitializeHandler initializes payment handler with all dependencies
func InitializeHandler(db *gorm.DB, redisClient *redis.Client, events *kafka.Publisher, cfg *config.Config) (*handler.PaymentHandler, error) {
	wire.Build(
		AllHandlersSet,
		handler.NewPaymentHandlerWithDI,
	)
	return nil, nil
}
