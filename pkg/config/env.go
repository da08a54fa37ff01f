package config

// EnvPrefix is handed to envconfig; every field carries an explicit key so the
// prefix only matters for unkeyed additions.
const EnvPrefix = "HIGHLIGHTZ"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	QueueBackendPubSub   = "pubsub"
	QueueBackendRabbitMQ = "rabbitmq"
)

const (
	EnvAppEnv       = "HIGHLIGHTZ_APP_ENV"
	EnvPort         = "HIGHLIGHTZ_APP_PORT"
	EnvDBDSN        = "HIGHLIGHTZ_DB_DSN"
	EnvDBHost       = "HIGHLIGHTZ_DB_HOST"
	EnvDBUser       = "HIGHLIGHTZ_DB_USER"
	EnvDBName       = "HIGHLIGHTZ_DB_NAME"
	EnvRedisURL     = "HIGHLIGHTZ_REDIS_URL"
	EnvMLAPIURL     = "HIGHLIGHTZ_ML_API_URL"
	EnvTaskTimeout  = "HIGHLIGHTZ_TASK_TIMEOUT"
	EnvTaskPoll     = "HIGHLIGHTZ_TASK_POLL_INTERVAL"
	EnvQueueBackend = "HIGHLIGHTZ_QUEUE_BACKEND"
	EnvGCPProjectID = "HIGHLIGHTZ_GCP_PROJECT_ID"
	EnvBQDataset    = "HIGHLIGHTZ_BIGQUERY_DATASET"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
