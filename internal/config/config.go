package config

import (
	"time"

	"github.com/caarlos0/env/v9"
)

const (
	DirectoryFirestore = "firestore"
	DirectorySQL       = "sql"
	DirectoryMemory    = "memory"
)

type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	FirebaseProjectID       string `env:"FIREBASE_PROJECT_ID"`
	FirebaseAPIKey          string `env:"FIREBASE_API_KEY"`
	FirebaseCredentialsFile string `env:"GOOGLE_APPLICATION_CREDENTIALS"`

	DirectoryBackend   string `env:"DIRECTORY_BACKEND" envDefault:"firestore"`
	AccountsCollection string `env:"ACCOUNTS_COLLECTION" envDefault:"users"`
	StorageBucket      string `env:"STORAGE_BUCKET"`
	ReferralBaseURL    string `env:"REFERRAL_BASE_URL" envDefault:"https://remu.com/ref/"`

	DBUser                 string `env:"DB_USER"`
	DBPassword             string `env:"DB_PASSWORD"`
	DBHost                 string `env:"DB_HOST"` // e.g. tcp(host:3306) or unix(/cloudsql/instance)
	DBName                 string `env:"DB_NAME"`
	DBPort                 string `env:"DB_PORT" envDefault:"3306"`
	InstanceConnectionName string `env:"INSTANCE_CONNECTION_NAME"`

	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1h"`
	ReconcileRepair   bool          `env:"RECONCILE_REPAIR" envDefault:"false"`
	ReconcileOnce     bool          `env:"RECONCILE_ONCE" envDefault:"false"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// HasDB reports whether enough MySQL settings are present to open a connection.
func (c *Config) HasDB() bool {
	return c.DBUser != "" && c.DBName != "" && (c.DBHost != "" || c.InstanceConnectionName != "")
}
