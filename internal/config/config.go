package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/spf13/viper"

	"ozzus/sensu-agent/internal/domain"
)

var ErrNoClientName = errors.New("client name is not configured")

// Env is the process environment that tells the agent where its
// configuration lives.
type Env struct {
	Env        string `env:"SENSU_ENV" env-default:"local" env-description:"logger flavour: local, dev or prod"`
	ConfigFile string `env:"SENSU_CONFIG_FILE" env-default:"config.json" env-description:"main configuration file"`
	ConfigDir  string `env:"SENSU_CONFIG_DIR" env-default:"conf.d" env-description:"directory of configuration fragments"`
}

func LoadEnv() (Env, error) {
	var env Env
	if err := cleanenv.ReadEnv(&env); err != nil {
		return Env{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return env, nil
}

type Settings struct {
	Client    ClientConfig    `mapstructure:"client"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Transport TransportConfig `mapstructure:"transport"`
	API       APIConfig       `mapstructure:"api"`
	Socket    SocketConfig    `mapstructure:"socket"`
}

type ClientConfig struct {
	Name                string   `mapstructure:"name"`
	Address             string   `mapstructure:"address"`
	Subscriptions       []string `mapstructure:"subscriptions"`
	SafeMode            bool     `mapstructure:"safemode"`
	Plugins             string   `mapstructure:"plugins"`
	SendMetricWithCheck bool     `mapstructure:"send_metric_with_check"`
	// Redact is a space separated list in the file. Nil means the default list.
	Redact []string `mapstructure:"redact"`
}

type RabbitMQConfig struct {
	Host     string    `mapstructure:"host"`
	Port     int       `mapstructure:"port"`
	VHost    string    `mapstructure:"vhost"`
	User     string    `mapstructure:"user"`
	Password string    `mapstructure:"password"`
	SSL      SSLConfig `mapstructure:"ssl"`
}

type SSLConfig struct {
	CertChainFile  string `mapstructure:"cert_chain_file"`
	PrivateKeyFile string `mapstructure:"private_key_file"`
}

func (s SSLConfig) Enabled() bool {
	return s.CertChainFile != "" && s.PrivateKeyFile != ""
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

type TransportConfig struct {
	Name string `mapstructure:"name"`
}

const (
	TransportRabbitMQ = "rabbitmq"
	TransportKafka    = "kafka"
)

type APIConfig struct {
	Port string `mapstructure:"port"`
}

type SocketConfig struct {
	Bind string `mapstructure:"bind"`
	Port int    `mapstructure:"port"`
}

func (s SocketConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Bind, s.Port)
}

// decodeSettings fills typed settings from the merged configuration tree.
// SENSU_ prefixed variables override file values, e.g. SENSU_RABBITMQ_HOST.
func decodeSettings(tree map[string]interface{}) (Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SENSU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// viper lowercases keys in place; the tree must keep its casing.
	if err := v.MergeConfigMap(domain.CloneMap(tree)); err != nil {
		return Settings{}, fmt.Errorf("failed to merge config: %w", err)
	}

	var s Settings
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(" "),
	))
	if err := v.Unmarshal(&s, hook); err != nil {
		return Settings{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if s.Client.Name == "" {
		return Settings{}, ErrNoClientName
	}
	if s.Client.Redact != nil {
		s.Client.Redact = compact(s.Client.Redact)
	}

	return s, nil
}

func setDefaults(v *viper.Viper) {
	// Client defaults
	v.SetDefault("client.name", "")
	v.SetDefault("client.address", "")
	v.SetDefault("client.subscriptions", []string{})
	v.SetDefault("client.safemode", false)
	v.SetDefault("client.plugins", defaultPlugins)
	v.SetDefault("client.send_metric_with_check", false)

	// Transport defaults
	v.SetDefault("transport.name", TransportRabbitMQ)
	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.vhost", "/sensu")
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.password", "guest")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})

	// Local surfaces
	v.SetDefault("api.port", "8081")
	v.SetDefault("socket.bind", "127.0.0.1")
	v.SetDefault("socket.port", 3030)
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
