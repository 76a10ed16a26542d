package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 服务全部配置，从 driftbottle.yaml 与环境变量加载
type Config struct {
	// Operators 管理员 ID 白名单，可以操作任何瓶子/评论
	Operators []string `mapstructure:"operators"`

	Content   ContentConfig   `mapstructure:"content"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Page      PageConfig      `mapstructure:"pagination"`
	Featured  FeaturedConfig  `mapstructure:"featured"`
	Assets    AssetsConfig    `mapstructure:"assets"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Database  DatabaseConfig  `mapstructure:"database"`
	HTTP      HTTPConfig      `mapstructure:"http"`

	// Debug 打开后失败路径会记录完整错误链，否则只记摘要
	Debug bool `mapstructure:"debug"`
	// Preview 投掷/评论成功后是否把入库内容回显给作者
	Preview bool `mapstructure:"preview"`
}

type ContentConfig struct {
	MaxLength  int  `mapstructure:"max_length"`  // 资产转存之后再校验
	AllowMedia bool `mapstructure:"allow_media"` // 关闭后拒绝一切媒体元素
}

type RetryConfig struct {
	Count    int           `mapstructure:"count"`    // 发送/抓取的最大尝试次数
	Interval time.Duration `mapstructure:"interval"` // 两次尝试之间的等待
}

// PageConfig 各列表的分页大小，0 表示不分页
type PageConfig struct {
	Comments  int `mapstructure:"comments"`
	Directory int `mapstructure:"directory"`
	Mine      int `mapstructure:"mine"`
}

type AssetsConfig struct {
	// Mode 媒体存储表示：remote（原样保留）/ inline（base64 内联）/ local（落盘）
	Mode string `mapstructure:"mode"`
	Dir  string `mapstructure:"dir"`
}

type BroadcastConfig struct {
	Enable      bool `mapstructure:"enable"`
	MinInterval int  `mapstructure:"min_interval"` // 秒
	MaxInterval int  `mapstructure:"max_interval"` // 秒
	// Targets 平台 -> 群组列表。键缺省 = 该平台可见的全部群组；
	// 显式空列表 = 跳过该平台
	Targets map[string][]string `mapstructure:"targets"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres / sqlite
	DSN    string `mapstructure:"dsn"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// FeaturedConfig 精选瓶子的判定：被管理员标记，或评论数达到阈值
type FeaturedConfig struct {
	Threshold int `mapstructure:"threshold"`
}

// Load 读取配置：默认值 < 配置文件 < 环境变量（前缀 DRIFTBOTTLE_）
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("operators", []string{})
	v.SetDefault("content.max_length", 1024)
	v.SetDefault("content.allow_media", true)
	v.SetDefault("retry.count", 3)
	v.SetDefault("retry.interval", "3s")
	v.SetDefault("pagination.comments", 10)
	v.SetDefault("pagination.directory", 20)
	v.SetDefault("pagination.mine", 20)
	v.SetDefault("featured.threshold", 5)
	v.SetDefault("assets.mode", "remote")
	v.SetDefault("assets.dir", "./data/assets")
	v.SetDefault("broadcast.enable", false)
	v.SetDefault("broadcast.min_interval", 3600)
	v.SetDefault("broadcast.max_interval", 10800)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("debug", false)
	v.SetDefault("preview", true)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("driftbottle")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("driftbottle")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 配置文件可选，找不到就全用默认值和环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if cfg.Broadcast.MaxInterval < cfg.Broadcast.MinInterval {
		return nil, fmt.Errorf("broadcast.max_interval 不能小于 min_interval")
	}
	if cfg.Retry.Count < 1 {
		cfg.Retry.Count = 1
	}
	return &cfg, nil
}

// IsOperator 判断用户是否在管理员白名单内
func (c *Config) IsOperator(userID string) bool {
	for _, id := range c.Operators {
		if id == userID {
			return true
		}
	}
	return false
}

// BroadcastTargets 解析某平台的广播目标。
// all 为 true 表示该平台未配置，广播到会话可见的全部群组；
// skip 为 true 表示显式配置了空列表，跳过该平台。
func (c *Config) BroadcastTargets(platform string) (guilds []string, all, skip bool) {
	t, ok := c.Broadcast.Targets[platform]
	if !ok {
		return nil, true, false
	}
	if len(t) == 0 {
		return nil, false, true
	}
	return t, false, false
}
