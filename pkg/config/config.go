package config

type LogLevel string

const (
	Info  LogLevel = "info"
	Debug LogLevel = "debug"
	Trace LogLevel = "trace"
	None  LogLevel = "none"
)

type HTTPProtocol string

const (
	HTTP  HTTPProtocol = "http"
	HTTPS HTTPProtocol = "https"
)

type HttpServer struct {
	LogLevel           LogLevel     `mapstructure:"log_level"`
	HealthCheckLogging bool         `mapstructure:"health_check_logging"`
	ListenAddress      string       `mapstructure:"listen_address"`
	Port               int          `mapstructure:"port"`
	Protocol           HTTPProtocol `mapstructure:"protocol"`
	CertFile           string       `mapstructure:"cert_file"`
	KeyFile            string       `mapstructure:"key_file"`
}

type PostgresConfig struct {
	LogLevel LogLevel `mapstructure:"log_level"`
	Hostname string   `mapstructure:"hostname"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	Database string   `mapstructure:"database"`
}

type EventBusProvider string

const (
	AMQP      EventBusProvider = "amqp"
	GoChannel EventBusProvider = "gochannel"
)

type EventBusEngine struct {
	LogLevel LogLevel         `mapstructure:"log_level"`
	Enabled  bool             `mapstructure:"enabled"`
	Provider EventBusProvider `mapstructure:"provider"`
	Amqp     AMQPConnection   `mapstructure:"amqp"`
}

type AMQPConnection struct {
	Protocol  string `mapstructure:"protocol"`
	Hostname  string `mapstructure:"hostname"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Exchange  string `mapstructure:"exchange"`
	BasicAuth bool   `mapstructure:"basic_auth"`
}

// KeyProvider points at the remote key-operations service. The broker
// treats every call through this endpoint as fallible and slow.
type KeyProvider struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CAClient points at the certificate authority service that handles
// issuance and revocation.
type CAClient struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type SweepJob struct {
	Enabled   bool   `mapstructure:"enabled"`
	Frequency string `mapstructure:"frequency"`
}

type BrokerConfig struct {
	Logs struct {
		Level LogLevel `mapstructure:"level"`
	} `mapstructure:"logs"`

	Server      HttpServer     `mapstructure:"server"`
	Storage     PostgresConfig `mapstructure:"storage"`
	EventBus    EventBusEngine `mapstructure:"event_bus"`
	KeyProvider KeyProvider    `mapstructure:"key_provider"`
	CAClient    CAClient       `mapstructure:"ca_client"`
	Sweep       SweepJob       `mapstructure:"sweep"`
}
