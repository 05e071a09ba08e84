package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	pebblestore "github.com/rzbill/herald/internal/storage/pebble"
	logpkg "github.com/rzbill/herald/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir   string          `yaml:"dataDir" json:"dataDir" env:"HERALD_DATA_DIR"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	GRPC      GRPCConfig      `yaml:"grpc" json:"grpc"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Push      PushConfig      `yaml:"push" json:"push"`
	Mail      MailConfig      `yaml:"mail" json:"mail"`
	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	Live      LiveConfig      `yaml:"live" json:"live"`
	Kafka     KafkaConfig     `yaml:"kafka" json:"kafka"`
	Admin     AdminConfig     `yaml:"admin" json:"admin"`
	Log       logpkg.Config   `yaml:"log" json:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" json:"addr" env:"HERALD_HTTP_ADDR"`
	// AllowedOrigin is echoed in Access-Control-Allow-Origin.
	AllowedOrigin string `yaml:"allowedOrigin" json:"allowedOrigin" env:"HERALD_HTTP_ALLOWED_ORIGIN"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr" json:"addr" env:"HERALD_GRPC_ADDR"`
}

// StoreConfig selects Pebble durability. Fsync is always|interval|never.
type StoreConfig struct {
	Fsync         string        `yaml:"fsync" json:"fsync" env:"HERALD_STORE_FSYNC"`
	FsyncInterval time.Duration `yaml:"fsyncInterval" json:"fsyncInterval" env:"HERALD_STORE_FSYNC_INTERVAL"`
}

// PushConfig holds the VAPID identity used for Web Push. Push is disabled
// while either key is empty.
type PushConfig struct {
	VAPIDPublicKey  string        `yaml:"vapidPublicKey" json:"vapidPublicKey" env:"HERALD_PUSH_VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string        `yaml:"vapidPrivateKey" json:"vapidPrivateKey" env:"HERALD_PUSH_VAPID_PRIVATE_KEY"`
	Subscriber      string        `yaml:"subscriber" json:"subscriber" env:"HERALD_PUSH_SUBSCRIBER"`
	TTL             time.Duration `yaml:"ttl" json:"ttl" env:"HERALD_PUSH_TTL"`
	SendTimeout     time.Duration `yaml:"sendTimeout" json:"sendTimeout" env:"HERALD_PUSH_SEND_TIMEOUT"`
	Icon            string        `yaml:"icon" json:"icon" env:"HERALD_PUSH_ICON"`
	Badge           string        `yaml:"badge" json:"badge" env:"HERALD_PUSH_BADGE"`
}

// Enabled reports whether both VAPID keys are present.
func (p PushConfig) Enabled() bool { return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != "" }

// MailConfig describes the SMTP relay. Mail is disabled while Host is empty.
type MailConfig struct {
	Host            string        `yaml:"host" json:"host" env:"HERALD_MAIL_HOST"`
	Port            int           `yaml:"port" json:"port" env:"HERALD_MAIL_PORT"`
	Username        string        `yaml:"username" json:"username" env:"HERALD_MAIL_USERNAME"`
	Password        string        `yaml:"password" json:"password" env:"HERALD_MAIL_PASSWORD"`
	From            string        `yaml:"from" json:"from" env:"HERALD_MAIL_FROM"`
	OperatorAddress string        `yaml:"operatorAddress" json:"operatorAddress" env:"HERALD_MAIL_OPERATOR_ADDRESS"`
	TLS             string        `yaml:"tls" json:"tls" env:"HERALD_MAIL_TLS"`
	SendTimeout     time.Duration `yaml:"sendTimeout" json:"sendTimeout" env:"HERALD_MAIL_SEND_TIMEOUT"`
}

// Enabled reports whether a relay host is configured.
func (m MailConfig) Enabled() bool { return m.Host != "" }

// RetryConfig tunes the email retry queue. MaxAttempts=0 retries forever.
type RetryConfig struct {
	Interval    time.Duration `yaml:"interval" json:"interval" env:"HERALD_RETRY_INTERVAL"`
	BatchLimit  int           `yaml:"batchLimit" json:"batchLimit" env:"HERALD_RETRY_BATCH_LIMIT"`
	BaseDelay   time.Duration `yaml:"baseDelay" json:"baseDelay" env:"HERALD_RETRY_BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"maxDelay" json:"maxDelay" env:"HERALD_RETRY_MAX_DELAY"`
	MaxAttempts int           `yaml:"maxAttempts" json:"maxAttempts" env:"HERALD_RETRY_MAX_ATTEMPTS"`
}

// LiveConfig tunes the live-connection hub. StaleAfter=0 disables eviction.
type LiveConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval" json:"heartbeatInterval" env:"HERALD_LIVE_HEARTBEAT_INTERVAL"`
	StaleAfter        time.Duration `yaml:"staleAfter" json:"staleAfter" env:"HERALD_LIVE_STALE_AFTER"`
	// WriteTimeout bounds one frame write to a connection.
	WriteTimeout      time.Duration `yaml:"writeTimeout" json:"writeTimeout" env:"HERALD_LIVE_WRITE_TIMEOUT"`
	BroadcastFallback bool          `yaml:"broadcastFallback" json:"broadcastFallback" env:"HERALD_LIVE_BROADCAST_FALLBACK"`
	FallbackEvent     string        `yaml:"fallbackEvent" json:"fallbackEvent" env:"HERALD_LIVE_FALLBACK_EVENT"`
}

// KafkaConfig enables the Kafka event intake when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers" env:"HERALD_KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" json:"topic" env:"HERALD_KAFKA_TOPIC"`
	GroupID string   `yaml:"groupId" json:"groupId" env:"HERALD_KAFKA_GROUP_ID"`
}

// AdminConfig guards privileged endpoints. An empty Token disables them.
type AdminConfig struct {
	Token string `yaml:"token" json:"token" env:"HERALD_ADMIN_TOKEN"`
}

// TelemetryConfig enables OTLP trace export when OTLPEndpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint" json:"otlpEndpoint" env:"HERALD_OTLP_ENDPOINT"`
	ServiceName  string `yaml:"serviceName" json:"serviceName" env:"HERALD_SERVICE_NAME"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTP:  HTTPConfig{Addr: ":8080", AllowedOrigin: "*"},
		GRPC:  GRPCConfig{Addr: ":50051"},
		Store: StoreConfig{Fsync: "always", FsyncInterval: 5 * time.Millisecond},
		Push: PushConfig{
			Subscriber:  "mailto:ops@example.com",
			TTL:         60 * time.Second,
			SendTimeout: 10 * time.Second,
			Icon:        "/icons/icon-192.png",
			Badge:       "/icons/badge-72.png",
		},
		Mail: MailConfig{
			Port:        587,
			TLS:         "opportunistic",
			SendTimeout: 15 * time.Second,
		},
		Retry: RetryConfig{
			Interval:   30 * time.Second,
			BatchLimit: 20,
			BaseDelay:  30 * time.Second,
			MaxDelay:   time.Hour,
		},
		Live: LiveConfig{
			HeartbeatInterval: 25 * time.Second,
			WriteTimeout:      10 * time.Second,
			BroadcastFallback: true,
			FallbackEvent:     "bookings.changed",
		},
		Kafka:     KafkaConfig{Topic: "booking-events", GroupID: "herald"},
		Log:       logpkg.Config{Level: "info", Format: "text"},
		Telemetry: TelemetryConfig{ServiceName: "herald"},
	}
}

// Load returns Default() overlaid with the file at path (YAML, JSON, TOML or
// EDN by extension, when path is non-empty) and then HERALD_* environment
// variables. A .env file in the working directory is loaded first if present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	cfg := Default()
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return Config{}, fmt.Errorf("config: read env: %w", err)
		}
		return cfg, cfg.Validate()
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	var errs []error
	if _, err := ParseFsync(c.Store.Fsync); err != nil {
		errs = append(errs, err)
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("push: both vapidPublicKey and vapidPrivateKey must be set"))
	}
	if c.Retry.Interval <= 0 {
		errs = append(errs, errors.New("retry: interval must be positive"))
	}
	if c.Retry.BatchLimit <= 0 {
		errs = append(errs, errors.New("retry: batchLimit must be positive"))
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, errors.New("retry: need 0 < baseDelay <= maxDelay"))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry: maxAttempts must not be negative"))
	}
	if c.Live.HeartbeatInterval < 0 || c.Live.StaleAfter < 0 || c.Live.WriteTimeout < 0 {
		errs = append(errs, errors.New("live: durations must not be negative"))
	}
	if len(c.Kafka.Brokers) > 0 && (c.Kafka.Topic == "" || c.Kafka.GroupID == "") {
		errs = append(errs, errors.New("kafka: topic and groupId are required with brokers"))
	}
	switch strings.ToLower(c.Mail.TLS) {
	case "", "opportunistic", "mandatory", "none":
	default:
		errs = append(errs, fmt.Errorf("mail: unknown tls policy %q", c.Mail.TLS))
	}
	return errors.Join(errs...)
}

// ParseFsync maps a store fsync name onto the Pebble wrapper's mode.
func ParseFsync(s string) (pebblestore.FsyncMode, error) {
	switch strings.ToLower(s) {
	case "always", "":
		return pebblestore.FsyncModeAlways, nil
	case "interval":
		return pebblestore.FsyncModeInterval, nil
	case "never":
		return pebblestore.FsyncModeNever, nil
	default:
		return pebblestore.FsyncModeUnspecified, fmt.Errorf("store: invalid fsync %q; use always|interval|never", s)
	}
}
