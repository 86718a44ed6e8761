package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Location  LocationConfig  `mapstructure:"location"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	History   HistoryConfig   `mapstructure:"history"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Timescale TimescaleConfig `mapstructure:"timescale"`
	Influx    InfluxConfig    `mapstructure:"influx"`
	Status    StatusConfig    `mapstructure:"status"`
}

// APIConfig holds the remote sensor service settings
type APIConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SessionFile string        `mapstructure:"session_file"`
}

// MQTTConfig holds the broker the location stream is read from
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	Port     int    `mapstructure:"port"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// LocationConfig selects the position source and its sampling knobs
type LocationConfig struct {
	Source          string        `mapstructure:"source"`
	StaticLatitude  float64       `mapstructure:"static_latitude"`
	StaticLongitude float64       `mapstructure:"static_longitude"`
	MinDistance     float64       `mapstructure:"min_distance_m"`
	MinInterval     time.Duration `mapstructure:"min_interval"`
}

// RefreshConfig controls how often the sensor list is fetched
type RefreshConfig struct {
	Mode     string        `mapstructure:"mode"`
	Interval time.Duration `mapstructure:"interval"`
}

// HistoryConfig selects where nearest-sensor results are recorded
type HistoryConfig struct {
	Driver string `mapstructure:"driver"`
}

// DatabaseConfig holds Postgres connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// TimescaleConfig holds Timescale specific configuration
type TimescaleConfig struct {
	TableName string `mapstructure:"table_name"`
}

// InfluxConfig holds InfluxDB v2 connection configuration
type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

// StatusConfig holds the local status server settings. An empty
// ListenAddr disables the server.
type StatusConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

const (
	SourceMQTT   = "mqtt"
	SourceStatic = "static"

	RefreshPoll = "poll"
	RefreshOnce = "once"

	HistoryNone     = "none"
	HistoryPostgres = "postgres"
	HistoryInflux   = "influx"
)

var envBindings = map[string]string{
	"api.base_url":     "API_BASE_URL",
	"api.timeout":      "API_TIMEOUT",
	"api.session_file": "API_SESSION_FILE",

	"mqtt.broker":    "MQTT_BROKER",
	"mqtt.port":      "MQTT_PORT",
	"mqtt.client_id": "MQTT_CLIENT_ID",
	"mqtt.topic":     "MQTT_TOPIC",
	"mqtt.username":  "MQTT_USERNAME",
	"mqtt.password":  "MQTT_PASSWORD",

	"location.source":           "LOCATION_SOURCE",
	"location.static_latitude":  "LOCATION_STATIC_LATITUDE",
	"location.static_longitude": "LOCATION_STATIC_LONGITUDE",
	"location.min_distance_m":   "LOCATION_MIN_DISTANCE_M",
	"location.min_interval":     "LOCATION_MIN_INTERVAL",

	"refresh.mode":     "REFRESH_MODE",
	"refresh.interval": "REFRESH_INTERVAL",

	"history.driver": "HISTORY_DRIVER",

	"database.host":     "DATABASE_HOST",
	"database.port":     "DATABASE_PORT",
	"database.user":     "DATABASE_USER",
	"database.password": "DATABASE_PASSWORD",
	"database.dbname":   "DATABASE_DBNAME",
	"database.sslmode":  "DATABASE_SSLMODE",

	"timescale.table_name": "TIMESCALE_TABLE_NAME",

	"influx.url":    "INFLUX_URL",
	"influx.token":  "INFLUX_TOKEN",
	"influx.org":    "INFLUX_ORG",
	"influx.bucket": "INFLUX_BUCKET",

	"status.listen_addr": "STATUS_LISTEN_ADDR",
}

// LoadConfig loads configuration from defaults, an optional config.yaml in
// path, a .env file, environment variables and finally flags (highest
// precedence). Flags are bound by their viper key, e.g. "api.base_url".
// A nil flag set is allowed.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	// .env values become regular environment variables; real env wins
	if err := godotenv.Load(); err == nil {
		log.Println("[CONFIG] Loaded .env file")
	}

	v := viper.New()

	// Set default values first (lowest precedence)
	setDefaults(v, GetDefaultConfig())

	// Try to load from config file (medium precedence)
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Map all configuration keys to environment variables
	// Example: mqtt.broker -> MQTT_BROKER
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if flags != nil {
		flags.VisitAll(func(f *pflag.Flag) {
			if isConfigKey(f.Name) {
				_ = v.BindPFlag(f.Name, f)
			}
		})
	}

	// Try to read config file, but don't fail if it doesn't exist
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		log.Printf("[CONFIG] Using config file %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.session_file", d.API.SessionFile)

	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.port", d.MQTT.Port)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.topic", d.MQTT.Topic)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)

	v.SetDefault("location.source", d.Location.Source)
	v.SetDefault("location.static_latitude", d.Location.StaticLatitude)
	v.SetDefault("location.static_longitude", d.Location.StaticLongitude)
	v.SetDefault("location.min_distance_m", d.Location.MinDistance)
	v.SetDefault("location.min_interval", d.Location.MinInterval)

	v.SetDefault("refresh.mode", d.Refresh.Mode)
	v.SetDefault("refresh.interval", d.Refresh.Interval)

	v.SetDefault("history.driver", d.History.Driver)

	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.dbname", d.Database.DBName)
	v.SetDefault("database.sslmode", d.Database.SSLMode)

	v.SetDefault("timescale.table_name", d.Timescale.TableName)

	v.SetDefault("influx.url", d.Influx.URL)
	v.SetDefault("influx.token", d.Influx.Token)
	v.SetDefault("influx.org", d.Influx.Org)
	v.SetDefault("influx.bucket", d.Influx.Bucket)

	v.SetDefault("status.listen_addr", d.Status.ListenAddr)
}

func isConfigKey(name string) bool {
	_, ok := envBindings[name]
	return ok
}

// GetDefaultConfig returns default configuration
func GetDefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://10.0.2.2:8000",
			Timeout: 10 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost",
			Port:     1883,
			ClientID: "sensormap",
			Topic:    "owntracks/+/+",
			Username: "",
			Password: "",
		},
		Location: LocationConfig{
			Source:          SourceStatic,
			StaticLatitude:  -22.9140639,
			StaticLongitude: -47.068686,
			MinDistance:     1,
			MinInterval:     time.Second,
		},
		Refresh: RefreshConfig{
			Mode:     RefreshPoll,
			Interval: 5 * time.Second,
		},
		History: HistoryConfig{
			Driver: HistoryNone,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			DBName:   "sensormap",
			SSLMode:  "disable",
		},
		Timescale: TimescaleConfig{
			TableName: "nearest_sensor_log",
		},
		Influx: InfluxConfig{
			URL:    "http://localhost:8086",
			Org:    "sensormap",
			Bucket: "nearest_sensor",
		},
		Status: StatusConfig{
			ListenAddr: "",
		},
	}
}

// Validate rejects settings the application cannot run with
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("invalid api.timeout: %v", c.API.Timeout)
	}

	switch c.Location.Source {
	case SourceMQTT, SourceStatic:
	default:
		return fmt.Errorf("invalid location.source: %q (expected %s or %s)", c.Location.Source, SourceMQTT, SourceStatic)
	}
	if c.Location.MinDistance < 0 {
		return fmt.Errorf("invalid location.min_distance_m: %v", c.Location.MinDistance)
	}
	if c.Location.MinInterval < 0 {
		return fmt.Errorf("invalid location.min_interval: %v", c.Location.MinInterval)
	}

	switch c.Refresh.Mode {
	case RefreshPoll:
		if c.Refresh.Interval <= 0 {
			return fmt.Errorf("invalid refresh.interval: %v", c.Refresh.Interval)
		}
	case RefreshOnce:
	default:
		return fmt.Errorf("invalid refresh.mode: %q (expected %s or %s)", c.Refresh.Mode, RefreshPoll, RefreshOnce)
	}

	switch c.History.Driver {
	case HistoryNone, HistoryPostgres:
	case HistoryInflux:
		if c.Influx.Token == "" {
			return fmt.Errorf("influx.token is required when history.driver is %s", HistoryInflux)
		}
	default:
		return fmt.Errorf("invalid history.driver: %q", c.History.Driver)
	}

	return nil
}

// GetDBConnString returns the database connection string
func (c *Config) GetDBConnString() string {
	log.Printf("[CONFIG] Connecting to database at 'host=%s port=%d user=%s dbname=%s sslmode=%s'",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.DBName,
		c.Database.SSLMode,
	)
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (c *Config) GetMQTTBrokerURL() string {
	brokerURL := c.MQTT.Broker

	for _, scheme := range []string{"tcp://", "ssl://", "ws://", "wss://"} {
		if strings.HasPrefix(brokerURL, scheme) {
			// If there's no port in the URL, add the default port
			if !strings.Contains(brokerURL[len(scheme):], ":") {
				brokerURL = fmt.Sprintf("%s:%d", brokerURL, c.MQTT.Port)
			}
			return brokerURL
		}
	}

	// Handle http:// and https:// protocols by converting to mqtt protocols
	if host, ok := strings.CutPrefix(brokerURL, "http://"); ok {
		if !strings.Contains(host, ":") {
			host = fmt.Sprintf("%s:%d", host, c.MQTT.Port)
		}
		return fmt.Sprintf("tcp://%s", host)
	}

	if host, ok := strings.CutPrefix(brokerURL, "https://"); ok {
		if !strings.Contains(host, ":") {
			host = fmt.Sprintf("%s:%d", host, c.MQTT.Port)
		}
		return fmt.Sprintf("ssl://%s", host)
	}

	log.Printf("[CONFIG] No protocol specified in broker URL '%s', defaulting to tcp://", brokerURL)
	return fmt.Sprintf("tcp://%s:%d", brokerURL, c.MQTT.Port)
}
