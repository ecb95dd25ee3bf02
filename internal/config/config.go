package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 上游服务的固定参数
const (
	DefaultUpstreamURL     = "https://www.blackbox.ai/api/chat"
	DefaultUserAgent       = "Mozilla/5.0 (Linux; Android 11; Infinix X6816C) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/97.0.4692.98 Mobile Safari/537.36"
	DefaultUpstreamTimeout = 30 * time.Second
	DefaultAgentModeID     = "ImageGenerationLV45LJp"
	DefaultAgentModeName   = "Image Generation"
	DefaultMaxPromptLength = 1000
)

const envPrefix = "IMAGEGEN"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Prompt   PromptConfig   `mapstructure:"prompt"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	StaticDir      string        `mapstructure:"static_dir"` // 前端页面目录，为空则不托管
}

type UpstreamConfig struct {
	URL           string        `mapstructure:"url"`
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	AgentModeID   string        `mapstructure:"agent_mode_id"`
	AgentModeName string        `mapstructure:"agent_mode_name"`
	Debug         bool          `mapstructure:"debug"` // 打印请求体与响应体
}

type PromptConfig struct {
	MaxLength int `mapstructure:"max_length"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load 读取配置文件和环境变量。配置文件不存在时使用默认值。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", configPath, err)
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Upstream.URL == "" {
		return errors.New("upstream.url is required")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("invalid upstream.timeout: %s", c.Upstream.Timeout)
	}
	if c.Prompt.MaxLength <= 0 {
		return fmt.Errorf("invalid prompt.max_length: %d", c.Prompt.MaxLength)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 35*time.Second)
	v.SetDefault("server.write_timeout", 40*time.Second)
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.static_dir", "")

	v.SetDefault("upstream.url", DefaultUpstreamURL)
	v.SetDefault("upstream.user_agent", DefaultUserAgent)
	v.SetDefault("upstream.timeout", DefaultUpstreamTimeout)
	v.SetDefault("upstream.agent_mode_id", DefaultAgentModeID)
	v.SetDefault("upstream.agent_mode_name", DefaultAgentModeName)
	v.SetDefault("upstream.debug", false)

	v.SetDefault("prompt.max_length", DefaultMaxPromptLength)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Accept"})
	v.SetDefault("cors.exposed_headers", []string{"Content-Length"})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 86400)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
