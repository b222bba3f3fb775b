package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Auth struct {
		Secret string `mapstructure:"secret"`
		// 非空时 ws 服务通过 HTTP 调用 {path}/auth/verify 校验 token，否则本地校验
		Path     string        `mapstructure:"path"`
		TokenTTL time.Duration `mapstructure:"token_ttl"`
	} `mapstructure:"auth"`
	WS struct {
		AllowedOrigins  []string      `mapstructure:"allowed_origins"`
		PingInterval    time.Duration `mapstructure:"ping_interval"`
		SaveDebounce    time.Duration `mapstructure:"save_debounce"`
		SendQueue       int           `mapstructure:"send_queue"`
		MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
		LoadConcurrency int           `mapstructure:"load_concurrency"`
	} `mapstructure:"ws"`
	Gateway struct {
		Port    int    `mapstructure:"port"`
		WSPath  string `mapstructure:"ws_path"`
		APIPath string `mapstructure:"api_path"`
	} `mapstructure:"gateway"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// EnvPrefix 环境变量前缀，例如 DRAW_MYSQL_DSN 覆盖 mysql.dsn
const EnvPrefix = "DRAW"

func setDefaults(v *viper.Viper) {
	// 每个 key 都要有默认值，AutomaticEnv 才能在 Unmarshal 时覆盖到
	v.SetDefault("running.port", 8080)
	v.SetDefault("mysql.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "draw.shape-events")
	v.SetDefault("auth.secret", "dev-secret")
	v.SetDefault("auth.path", "")
	v.SetDefault("auth.token_ttl", 7*24*time.Hour)
	v.SetDefault("ws.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("ws.ping_interval", 30*time.Second)
	v.SetDefault("ws.save_debounce", 2*time.Second)
	v.SetDefault("ws.send_queue", 64)
	v.SetDefault("ws.max_message_bytes", 1<<20)
	v.SetDefault("ws.load_concurrency", 32)
	v.SetDefault("gateway.port", 3000)
	v.SetDefault("gateway.ws_path", "http://localhost:8080")
	v.SetDefault("gateway.api_path", "http://localhost:8081")
	v.SetDefault("log.level", "info")
}

func newViper(name string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load 读取 <name>.yaml；文件不存在时只用默认值和环境变量
func Load(name string) (*Config, error) {
	v := newViper(name)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrapf(err, "read config %s", name)
		}
	}
	return unmarshal(v)
}

// LoadFile 读取指定路径的配置文件
func LoadFile(path string) (*Config, error) {
	v := newViper("config")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	// 逗号分隔的环境变量 DRAW_WS_ALLOWED_ORIGINS / DRAW_KAFKA_BROKERS
	cfg.WS.AllowedOrigins = splitList(cfg.WS.AllowedOrigins)
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	return cfg, nil
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
