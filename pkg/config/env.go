package config

const (
	EnvPrefix = "MUSICX"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "MUSICX_APP_ENV"
	EnvPort     = "MUSICX_APP_PORT"
	EnvLogLevel = "MUSICX_LOG_LEVEL"

	EnvDBDSN  = "MUSICX_DB_DSN"
	EnvDBHost = "MUSICX_DB_HOST"
	EnvDBUser = "MUSICX_DB_USER"
	EnvDBName = "MUSICX_DB_NAME"

	EnvRedisURL = "MUSICX_REDIS_URL"

	EnvJWTSecret = "MUSICX_JWT_SECRET"
	EnvJWTIssuer = "MUSICX_JWT_ISSUER"

	EnvMoMoPartnerCode = "MUSICX_MOMO_PARTNER_CODE"
	EnvMoMoAccessKey   = "MUSICX_MOMO_ACCESS_KEY"
	EnvMoMoSecretKey   = "MUSICX_MOMO_SECRET_KEY"
	EnvMoMoReturnURL   = "MUSICX_MOMO_RETURN_URL"
	EnvMoMoNotifyURL   = "MUSICX_MOMO_NOTIFY_URL"

	EnvFrontendReturnURL = "MUSICX_FRONTEND_RETURN_URL"
	EnvPendingPaymentTTL = "MUSICX_PAYMENTS_PENDING_TTL"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
