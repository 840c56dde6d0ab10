package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix              = "SPIRIT"
	defaultPlatformFeeRate = 0.10
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Auth     AuthConfig     `yaml:"auth"`
	Store    StoreConfig    `yaml:"store"`
	Firebase FirebaseConfig `yaml:"firebase"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Events   EventsConfig   `yaml:"events"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Booking  BookingConfig  `yaml:"booking"`
	Meeting  MeetingConfig  `yaml:"meeting"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Worker   WorkerConfig   `yaml:"worker"`
}

type HTTPConfig struct {
	Address        string   `yaml:"address"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	// Provider is "jwt" or "firebase".
	Provider  string `yaml:"provider"`
	JWTSecret string `yaml:"jwt_secret"`
}

type StoreConfig struct {
	// Driver is "firestore", "postgres" or "memory".
	Driver     string `yaml:"driver"`
	Collection string `yaml:"collection"`
}

type FirebaseConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type EventsConfig struct {
	// Broker is "kafka", "rabbitmq" or "none".
	Broker             string `yaml:"broker"`
	BookingTopic       string `yaml:"booking_topic"`
	NotificationsTopic string `yaml:"notifications_topic"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

type BookingConfig struct {
	// PlatformFeeRate is a pointer so an explicit 0 is kept; nil means the default.
	PlatformFeeRate     *float64 `yaml:"platform_fee_rate"`
	LockTTLSeconds      int      `yaml:"lock_ttl_seconds"`
	ReminderLeadMinutes int      `yaml:"reminder_lead_minutes"`
}

type MeetingConfig struct {
	BaseURL        string `yaml:"base_url"`
	RoomPrefix     string `yaml:"room_prefix"`
	PasswordLength int    `yaml:"password_length"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type WorkerConfig struct {
	ReminderSweepMinutes int `yaml:"reminder_sweep_minutes"`
}

// FeeRate returns the configured commission, or the default when unset.
func (b BookingConfig) FeeRate() float64 {
	if b.PlatformFeeRate == nil {
		return defaultPlatformFeeRate
	}
	return *b.PlatformFeeRate
}

func (b BookingConfig) LockTTL() time.Duration {
	return time.Duration(b.LockTTLSeconds) * time.Second
}

func (b BookingConfig) ReminderLead() time.Duration {
	return time.Duration(b.ReminderLeadMinutes) * time.Minute
}

// LoadConfig reads the YAML file at path, applies SPIRIT_* environment
// overrides and fills defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fills defaults and rejects unknown drivers.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Auth.Provider == "" {
		c.Auth.Provider = "jwt"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "firestore"
	}
	if c.Store.Collection == "" {
		c.Store.Collection = "bookings"
	}
	if c.Events.Broker == "" {
		c.Events.Broker = "none"
	}
	if c.Booking.PlatformFeeRate == nil {
		rate := defaultPlatformFeeRate
		c.Booking.PlatformFeeRate = &rate
	}
	if c.Booking.LockTTLSeconds == 0 {
		c.Booking.LockTTLSeconds = 10
	}
	if c.Booking.ReminderLeadMinutes == 0 {
		c.Booking.ReminderLeadMinutes = 60
	}
	if c.Meeting.BaseURL == "" {
		c.Meeting.BaseURL = "https://meet.jit.si"
	}
	if c.Meeting.RoomPrefix == "" {
		c.Meeting.RoomPrefix = "spiritual"
	}
	if c.Meeting.PasswordLength == 0 {
		c.Meeting.PasswordLength = 8
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.Worker.ReminderSweepMinutes == 0 {
		c.Worker.ReminderSweepMinutes = 5
	}

	switch c.Auth.Provider {
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required for the jwt provider")
		}
	case "firebase":
	default:
		return fmt.Errorf("unknown auth provider %q", c.Auth.Provider)
	}

	switch c.Store.Driver {
	case "firestore", "postgres", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Events.Broker {
	case "kafka", "rabbitmq", "none":
	default:
		return fmt.Errorf("unknown events broker %q", c.Events.Broker)
	}

	if rate := c.Booking.FeeRate(); rate < 0 || rate >= 1 {
		return fmt.Errorf("booking.platform_fee_rate must be in [0, 1)")
	}
	return nil
}
