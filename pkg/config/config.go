package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the envconfig prefix shared by every service binary.
const EnvPrefix = "chainsettle"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv            = "CHAINSETTLE_APP_ENV"
	EnvPort              = "CHAINSETTLE_APP_PORT"
	EnvDBDSN             = "CHAINSETTLE_DB_DSN"
	EnvDBHost            = "CHAINSETTLE_DB_HOST"
	EnvDBUser            = "CHAINSETTLE_DB_USER"
	EnvDBName            = "CHAINSETTLE_DB_NAME"
	EnvGCPProjectID      = "CHAINSETTLE_GCP_PROJECT_ID"
	EnvPubSubDomainTopic = "CHAINSETTLE_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubDomainSub   = "CHAINSETTLE_PUBSUB_DOMAIN_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Exports      ExportsConfig
	Recon        ReconConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CHAINSETTLE_APP_ENV" required:"true"`
	Port         string `envconfig:"CHAINSETTLE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CHAINSETTLE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CHAINSETTLE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CHAINSETTLE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CHAINSETTLE_DB_DSN"`
	Driver string `envconfig:"CHAINSETTLE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CHAINSETTLE_DB_HOST"`
	LegacyPort     int    `envconfig:"CHAINSETTLE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CHAINSETTLE_DB_USER"`
	LegacyPassword string `envconfig:"CHAINSETTLE_DB_PASSWORD"`
	LegacyName     string `envconfig:"CHAINSETTLE_DB_NAME"`
	LegacySSLMode  string `envconfig:"CHAINSETTLE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CHAINSETTLE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CHAINSETTLE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CHAINSETTLE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CHAINSETTLE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CHAINSETTLE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CHAINSETTLE_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CHAINSETTLE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"CHAINSETTLE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CHAINSETTLE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic        string `envconfig:"CHAINSETTLE_PUBSUB_DOMAIN_TOPIC" required:"true"`
	DomainSubscription string `envconfig:"CHAINSETTLE_PUBSUB_DOMAIN_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CHAINSETTLE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CHAINSETTLE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CHAINSETTLE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// ExportsConfig tunes the snapshot export claim queue and its workers.
type ExportsConfig struct {
	MaxRetries     int           `envconfig:"CHAINSETTLE_EXPORTS_MAX_RETRIES" default:"5"`
	ClaimAttempts  int           `envconfig:"CHAINSETTLE_EXPORTS_CLAIM_ATTEMPTS" default:"5"`
	LeaseTTL       time.Duration `envconfig:"CHAINSETTLE_EXPORTS_LEASE_TTL" default:"5m"`
	ReapInterval   time.Duration `envconfig:"CHAINSETTLE_EXPORTS_REAP_INTERVAL" default:"1m"`
	PollIntervalMS int           `envconfig:"CHAINSETTLE_EXPORTS_POLL_MS" default:"500"`
	Targets        []string      `envconfig:"CHAINSETTLE_EXPORTS_TARGETS" default:"SEEBURGER,CHAINIQ"`
}

// ReconConfig carries the default reconciliation policy parameters. Only the
// flat 10% holdback is contractually fixed; the band and excursion threshold
// are explicit knobs so finance can tune them per corridor.
type ReconConfig struct {
	PolicyID                string  `envconfig:"CHAINSETTLE_RECON_POLICY_ID" default:"default-v1"`
	ToleranceBand           float64 `envconfig:"CHAINSETTLE_RECON_TOLERANCE_BAND" default:"0.10"`
	HoldbackRate            float64 `envconfig:"CHAINSETTLE_RECON_HOLDBACK_RATE" default:"0.10"`
	MaxTempExcursionMinutes int     `envconfig:"CHAINSETTLE_RECON_MAX_TEMP_EXCURSION_MINUTES" default:"0"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
