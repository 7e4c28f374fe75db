package config

const (
	EnvPrefix = "TAVOLA"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvDBDSN  = "TAVOLA_DB_DSN"
	EnvDBHost = "TAVOLA_DB_HOST"
	EnvDBUser = "TAVOLA_DB_USER"
	EnvDBName = "TAVOLA_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
