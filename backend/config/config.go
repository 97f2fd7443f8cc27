package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port            int           `mapstructure:"Port"`
		ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	} `mapstructure:"Running"`
	// Store.driver: mysql | mongo | memory
	Store struct {
		Driver string `mapstructure:"driver"`
	} `mapstructure:"Store"`
	Mysql struct {
		DSN             string `mapstructure:"dsn"`
		SnapshotHistory bool   `mapstructure:"snapshotHistory"`
	} `mapstructure:"Mysql"`
	Mongo struct {
		URI        string `mapstructure:"uri"`
		Database   string `mapstructure:"database"`
		Collection string `mapstructure:"collection"`
	} `mapstructure:"Mongo"`
	Redis struct {
		Addrs       []string      `mapstructure:"addrs"`
		Password    string        `mapstructure:"password"`
		PresenceTTL time.Duration `mapstructure:"presenceTTL"`
	} `mapstructure:"Redis"`
	Kafka struct {
		Brokers     []string      `mapstructure:"brokers"`
		Topic       string        `mapstructure:"topic"`
		QueueSize   int           `mapstructure:"queueSize"`
		Workers     int           `mapstructure:"workers"`
		MaxRetry    int           `mapstructure:"maxRetry"`
		BaseBackoff time.Duration `mapstructure:"baseBackoff"`
		MaxBackoff  time.Duration `mapstructure:"maxBackoff"`
	} `mapstructure:"Kafka"`
	Auth struct {
		Mode      string `mapstructure:"mode"`
		Path      string `mapstructure:"path"`
		JWTSecret string `mapstructure:"jwtSecret"`
	} `mapstructure:"Auth"`
	Collab struct {
		FlushDebounce      time.Duration `mapstructure:"flushDebounce"`
		FlushAttempts      int           `mapstructure:"flushAttempts"`
		BaseBackoff        time.Duration `mapstructure:"baseBackoff"`
		MaxBackoff         time.Duration `mapstructure:"maxBackoff"`
		RetryInterval      time.Duration `mapstructure:"retryInterval"`
		LoadTimeout        time.Duration `mapstructure:"loadTimeout"`
		SaveTimeout        time.Duration `mapstructure:"saveTimeout"`
		EvictDelay         time.Duration `mapstructure:"evictDelay"`
		MailboxSize        int           `mapstructure:"mailboxSize"`
		MaxInflightChanges int           `mapstructure:"maxInflightChanges"`
		SubmitTimeout      time.Duration `mapstructure:"submitTimeout"`
		SendQueue          int           `mapstructure:"sendQueue"`
	} `mapstructure:"Collab"`
	Cors struct {
		Enabled      bool     `mapstructure:"enabled"`
		AllowOrigins []string `mapstructure:"allowOrigins"`
	} `mapstructure:"Cors"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Running.Port", 8082)
	v.SetDefault("Running.shutdownTimeout", "15s")

	v.SetDefault("Store.driver", "mysql")
	v.SetDefault("Mysql.dsn", "")
	v.SetDefault("Mysql.snapshotHistory", true)
	v.SetDefault("Mongo.uri", "")
	v.SetDefault("Mongo.database", "banglish")
	v.SetDefault("Mongo.collection", "documents")

	v.SetDefault("Redis.addrs", []string{})
	v.SetDefault("Redis.password", "")
	v.SetDefault("Redis.presenceTTL", "600s")

	v.SetDefault("Kafka.brokers", []string{})
	v.SetDefault("Kafka.topic", "doc-events")
	v.SetDefault("Kafka.queueSize", 10_000)
	v.SetDefault("Kafka.workers", 4)
	v.SetDefault("Kafka.maxRetry", 3)
	v.SetDefault("Kafka.baseBackoff", "50ms")
	v.SetDefault("Kafka.maxBackoff", "1s")

	v.SetDefault("Auth.mode", "remote")
	v.SetDefault("Auth.path", "http://localhost:3001")
	v.SetDefault("Auth.jwtSecret", "")

	v.SetDefault("Collab.flushDebounce", "2s")
	v.SetDefault("Collab.flushAttempts", 3)
	v.SetDefault("Collab.baseBackoff", "500ms")
	v.SetDefault("Collab.maxBackoff", "5s")
	v.SetDefault("Collab.retryInterval", "10s")
	v.SetDefault("Collab.loadTimeout", "5s")
	v.SetDefault("Collab.saveTimeout", "5s")
	v.SetDefault("Collab.evictDelay", "0s")
	v.SetDefault("Collab.mailboxSize", 256)
	v.SetDefault("Collab.maxInflightChanges", 100)
	v.SetDefault("Collab.submitTimeout", "200ms")
	v.SetDefault("Collab.sendQueue", 256)

	v.SetDefault("Cors.enabled", false)
	v.SetDefault("Cors.allowOrigins", []string{"http://localhost:5173"})
}

// Load 读取配置：path 为空时按约定目录查找 collabConfig.yaml，找不到就只用默认值 + 环境变量。
// 环境变量前缀 COLLAB，层级用下划线，例如 COLLAB_MYSQL_DSN、COLLAB_COLLAB_FLUSHDEBOUNCE。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("collabConfig")
		v.SetConfigType("yaml")
		// 兼容从项目根目录或 backend 目录启动
		v.AddConfigPath("./backend/config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "mysql":
		if c.Mysql.DSN == "" {
			return errors.New("config: Mysql.dsn required for mysql store")
		}
	case "mongo":
		if c.Mongo.URI == "" {
			return errors.New("config: Mongo.uri required for mongo store")
		}
	case "memory":
	default:
		return errors.New("config: Store.driver must be mysql, mongo or memory")
	}
	switch c.Auth.Mode {
	case "local":
		if c.Auth.JWTSecret == "" {
			return errors.New("config: Auth.jwtSecret required for local auth")
		}
	case "remote", "none":
	default:
		return errors.New("config: Auth.mode must be local, remote or none")
	}
	if c.Running.Port <= 0 {
		return errors.New("config: Running.Port must be positive")
	}
	return nil
}
