package payment

import (
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/tair/reseller-billing/internal/payment/config"
	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/internal/payment/gateway"
	"github.com/tair/reseller-billing/internal/payment/handler"
	"github.com/tair/reseller-billing/internal/payment/reconcile"
	"github.com/tair/reseller-billing/internal/payment/repository"
	"github.com/tair/reseller-billing/internal/payment/sideeffect"
	"github.com/tair/reseller-billing/internal/payment/usecase/command"
	"github.com/tair/reseller-billing/internal/payment/usecase/query"
	"github.com/tair/reseller-billing/kafka"
	"github.com/tair/reseller-billing/pkg/circuitbreaker"
	"github.com/tair/reseller-billing/pkg/ratelimit"
)

const credentialCacheTTL = time.Minute

// ProvidePaymentRepository provides the payment repository
func ProvidePaymentRepository(db *gorm.DB) domain.PaymentRepository {
	return repository.NewGormPaymentRepository(db)
}

// ProvideUserRepository provides the user and ledger repository
func ProvideUserRepository(db *gorm.DB) domain.UserRepository {
	return repository.NewGormUserRepository(db)
}

// ProvideCredentialRepository puts the Redis cache in front of the credentials table
func ProvideCredentialRepository(db *gorm.DB, redisClient *redis.Client) domain.CredentialRepository {
	return repository.NewCachedCredentialStore(repository.NewGormCredentialRepository(db), redisClient, credentialCacheTTL)
}

// ProvideCredentialStore narrows the cached repository for read-only consumers
func ProvideCredentialStore(credentials domain.CredentialRepository) domain.CredentialStore {
	return credentials
}

func ProvideBreakers(cfg *config.Config) *circuitbreaker.Manager {
	return circuitbreaker.NewManager(cfg.BreakerMaxFailures, cfg.BreakerTimeout)
}

func ProvideGatewayRegistry(credentials domain.CredentialStore, breakers *circuitbreaker.Manager, cfg *config.Config) gateway.Provider {
	return gateway.NewRegistry(credentials, breakers, gateway.Options{Timeout: cfg.GatewayTimeout})
}

// ProvideEventPublisher adapts the Kafka publisher; a nil publisher drops events
func ProvideEventPublisher(events *kafka.Publisher) sideeffect.EventPublisher {
	return events
}

func ProvideRenewalEventPublisher(events *kafka.Publisher) command.RenewalEventPublisher {
	return events
}

func ProvideDispatcher(payments domain.PaymentRepository, users domain.UserRepository, events sideeffect.EventPublisher, cfg *config.Config) reconcile.Dispatcher {
	return sideeffect.NewDispatcher(payments, users, events, cfg.ReferralCommissionPct)
}

func ProvideCoordinator(payments domain.PaymentRepository, dispatcher reconcile.Dispatcher) *reconcile.Coordinator {
	return reconcile.NewCoordinator(payments, dispatcher)
}

// Command Handlers Providers
func ProvideCreatePaymentHandler(repo domain.PaymentRepository, gateways gateway.Provider, cfg *config.Config) *command.CreatePaymentHandler {
	return command.NewCreatePaymentHandler(repo, gateways, cfg.PublicBaseURL)
}

func ProvideProcessWebhookHandler(repo domain.PaymentRepository, gateways gateway.Provider, coordinator *reconcile.Coordinator) *command.ProcessWebhookHandler {
	return command.NewProcessWebhookHandler(repo, gateways, coordinator)
}

// ProvideRefreshStatusHandler allows one gateway poll per record per throttle window
func ProvideRefreshStatusHandler(repo domain.PaymentRepository, gateways gateway.Provider, coordinator *reconcile.Coordinator, redisClient *redis.Client, cfg *config.Config) *command.RefreshStatusHandler {
	throttle := ratelimit.New(redisClient, "payment:refresh", 1, cfg.RefreshThrottle)
	return command.NewRefreshStatusHandler(repo, gateways, coordinator, throttle)
}

func ProvideUpdateStatusHandler(repo domain.PaymentRepository, coordinator *reconcile.Coordinator) *command.UpdateStatusHandler {
	return command.NewUpdateStatusHandler(repo, coordinator)
}

func ProvideRenewSubscriptionsHandler(repo domain.PaymentRepository, gateways gateway.Provider, events command.RenewalEventPublisher, cfg *config.Config) *command.RenewSubscriptionsHandler {
	return command.NewRenewSubscriptionsHandler(repo, gateways, events, cfg.PublicBaseURL, cfg.RenewalBatchSize)
}

func ProvideSaveCredentialHandler(credentials domain.CredentialRepository) *command.SaveCredentialHandler {
	return command.NewSaveCredentialHandler(credentials)
}

// Query Handlers Providers
func ProvideGetPaymentHandler(repo domain.PaymentRepository) *query.GetPaymentHandler {
	return query.NewGetPaymentHandler(repo)
}

func ProvideListPaymentsHandler(repo domain.PaymentRepository) *query.ListPaymentsHandler {
	return query.NewListPaymentsHandler(repo)
}

func ProvideListTransactionsHandler(users domain.UserRepository) *query.ListTransactionsHandler {
	return query.NewListTransactionsHandler(users)
}

func ProvideSecrets(cfg *config.Config) handler.Secrets {
	return handler.Secrets{JWT: []byte(cfg.JWTSecret), Renewal: cfg.RenewalSecret}
}

// ProvideStatusLimiter limits public status polls per client IP
func ProvideStatusLimiter(redisClient *redis.Client, cfg *config.Config) *ratelimit.RateLimiter {
	return ratelimit.New(redisClient, "payment:status", cfg.StatusRateLimit, time.Minute)
}
