package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/loiht2/payload-forge/artifact"
)

const envPrefix = "PAYLOAD_FORGE"

// Config holds all configuration for the server
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Artifact ArtifactConfig
	Export   ExportConfig
	Logging  LoggingConfig
	// Path of a kubeconfig file; empty means in-cluster. Only used when a secret is configured.
	Kubeconfig string
}

type ServerConfig struct {
	Port               int `validate:"min=1,max=65535"`
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ShutdownTimeout    time.Duration `validate:"gt=0"`
	RequestTimeout     time.Duration `validate:"gt=0"`
	AutoSaveDelay      time.Duration `validate:"gt=0"`
	SessionIdleTimeout time.Duration
	MonitorInterval    time.Duration `validate:"gt=0"`
	// Empty allows every origin
	AllowedOrigins []string
	// Header carrying the caller identity set by the gateway
	UserHeader          string
	SeedDefaultTemplate bool
}

type StoreConfig struct {
	Type       string `validate:"oneof=memory sqlite postgres redis"`
	SQLitePath string `validate:"required_if=Type sqlite"`

	PostgresDSN             string `validate:"required_if=Type postgres"`
	PostgresMaxIdleConns    int    `validate:"gte=0"`
	PostgresMaxOpenConns    int    `validate:"gte=0"`
	PostgresConnMaxLifetime time.Duration

	// Either a single address or a seed list of host:port addresses
	RedisAddrs      []string
	RedisPassword   string
	RedisDB         int `validate:"gte=0,lte=16"`
	RedisMasterName string

	ConnectAttempts uint `validate:"gte=1"`
	ConnectDelay    time.Duration
}

// SecretRef names a Kubernetes secret
type SecretRef struct {
	Namespace string
	Name      string
}

type ArtifactConfig struct {
	Enabled         bool
	TokenURL        string
	SearchURL       string
	DownloadBaseURL string
	TokenSubject    string
	Scope           string
	TokenExpiry     time.Duration
	ReuseToken      bool
	Repo            string
	ArtifactName    string
	ArtifactPath    string
	RequestTimeout  time.Duration
	// Read from ARTYLAB_USERNAME / ARTYLAB_PASSWORD
	Username string
	Password string
	// When set, credentials are read from this secret instead
	CredentialsSecret SecretRef
	UsernameKey       string
	PasswordKey       string
}

// ClientConfig returns the settings of the artifact search client
func (c ArtifactConfig) ClientConfig() artifact.Config {
	return artifact.Config{
		TokenURL:        c.TokenURL,
		SearchURL:       c.SearchURL,
		DownloadBaseURL: c.DownloadBaseURL,
		TokenSubject:    c.TokenSubject,
		Scope:           c.Scope,
		TokenExpiry:     c.TokenExpiry,
		ReuseToken:      c.ReuseToken,
		Repo:            c.Repo,
		ArtifactName:    c.ArtifactName,
		ArtifactPath:    c.ArtifactPath,
		RequestTimeout:  c.RequestTimeout,
	}
}

type ExportConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string `validate:"required_if=Enabled true"`
	Prefix    string
	// When set, endpoint and keys are read from this secret
	Secret SecretRef
}

type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `validate:"oneof=text json"`
}

// NeedsKubernetes reports whether any integration reads its credentials from a secret
func (c Config) NeedsKubernetes() bool {
	return (c.Artifact.Enabled && c.Artifact.CredentialsSecret.Name != "") ||
		(c.Export.Enabled && c.Export.Secret.Name != "")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 15*time.Second)
	v.SetDefault("server.writeTimeout", 60*time.Second)
	v.SetDefault("server.idleTimeout", 60*time.Second)
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("server.requestTimeout", 30*time.Second)
	v.SetDefault("server.autoSaveDelay", 1500*time.Millisecond)
	v.SetDefault("server.sessionIdleTimeout", 30*time.Minute)
	v.SetDefault("server.monitorInterval", 30*time.Second)
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.userHeader", "kubeflow-userid")
	v.SetDefault("server.seedDefaultTemplate", true)

	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.sqlitePath", "data/payload-forge.db")
	v.SetDefault("store.postgresDSN", "")
	v.SetDefault("store.postgresMaxIdleConns", 10)
	v.SetDefault("store.postgresMaxOpenConns", 100)
	v.SetDefault("store.postgresConnMaxLifetime", time.Hour)
	v.SetDefault("store.redisAddrs", []string{})
	v.SetDefault("store.redisPassword", "")
	v.SetDefault("store.redisDB", 0)
	v.SetDefault("store.redisMasterName", "")
	v.SetDefault("store.connectAttempts", 5)
	v.SetDefault("store.connectDelay", 2*time.Second)

	defaults := artifact.DefaultConfig()
	v.SetDefault("artifact.enabled", true)
	v.SetDefault("artifact.tokenURL", defaults.TokenURL)
	v.SetDefault("artifact.searchURL", defaults.SearchURL)
	v.SetDefault("artifact.downloadBaseURL", defaults.DownloadBaseURL)
	v.SetDefault("artifact.tokenSubject", "")
	v.SetDefault("artifact.scope", defaults.Scope)
	v.SetDefault("artifact.tokenExpiry", defaults.TokenExpiry)
	v.SetDefault("artifact.reuseToken", defaults.ReuseToken)
	v.SetDefault("artifact.repo", defaults.Repo)
	v.SetDefault("artifact.artifactName", defaults.ArtifactName)
	v.SetDefault("artifact.artifactPath", defaults.ArtifactPath)
	v.SetDefault("artifact.requestTimeout", defaults.RequestTimeout)
	v.SetDefault("artifact.credentialsSecret.namespace", "")
	v.SetDefault("artifact.credentialsSecret.name", "")
	v.SetDefault("artifact.usernameKey", "username")
	v.SetDefault("artifact.passwordKey", "password")

	v.SetDefault("export.enabled", false)
	v.SetDefault("export.endpoint", "")
	v.SetDefault("export.accessKey", "")
	v.SetDefault("export.secretKey", "")
	v.SetDefault("export.useSSL", false)
	v.SetDefault("export.bucket", "payload-exports")
	v.SetDefault("export.prefix", "exports")
	v.SetDefault("export.secret.namespace", "")
	v.SetDefault("export.secret.name", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("kubeconfig", "")
}

// Load reads configuration from defaults, an optional YAML file, PAYLOAD_FORGE_* environment
// variables and command line flags, in increasing order of precedence.
// Flags named "port" and "kubeconfig" override server.port and kubeconfig.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("artifact.username", "ARTYLAB_USERNAME"); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := v.BindEnv("artifact.password", "ARTYLAB_PASSWORD"); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := v.BindEnv("kubeconfig", envPrefix+"_KUBECONFIG", "KUBECONFIG"); err != nil {
		return nil, errors.WithStack(err)
	}

	if flags != nil {
		for key, name := range map[string]string{"server.port": "port", "kubeconfig": "kubeconfig"} {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, errors.WithStack(err)
				}
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configFile)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	return &config, nil
}

// Validate checks the configuration; the artifact client settings are only checked when enabled
func (c Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Store.Type == "redis" && len(c.Store.RedisAddrs) == 0 {
		return errors.New("store.redisAddrs must list at least one address for the redis store")
	}
	if c.Artifact.Enabled {
		if err := validate.Struct(c.Artifact.ClientConfig()); err != nil {
			return err
		}
	}
	return nil
}

// LogValidationErrors logs one line per invalid field
func LogValidationErrors(err error) {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		if err != nil {
			log.Errorf("ConfigError: %v", err)
		}
		return
	}
	for _, err := range validationErrs {
		fieldName := stripPrefix(err.Namespace())
		switch err.Tag() {
		case "required", "required_if":
			log.Errorf("ConfigError: Field %s is required but was not found", fieldName)
		default:
			log.Errorf("ConfigError: Field %s has invalid value %v: %s", fieldName, err.Value(), err.Tag())
		}
	}
}

func stripPrefix(s string) string {
	if idx := strings.Index(s, "."); idx != -1 {
		return s[idx+1:]
	}
	return s
}

// ConfigureLogging sets the global logrus level and formatter
func ConfigureLogging(config LoggingConfig) error {
	level, err := log.ParseLevel(config.Level)
	if err != nil {
		return errors.WithStack(err)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stdout)
	if config.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
