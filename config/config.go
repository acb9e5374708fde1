package config

import (
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Config 包装 viper，提供带默认值的读取方法
type Config struct {
	*viper.Viper
}

// GlobalConfig 默认全局配置
var GlobalConfig *Config

func init() {
	GlobalConfig = New()
}

// New 创建一个已设置默认值的配置
func New() *Config {
	c := &Config{viper.New()}
	c.SetDefault("decaptcha.host", "http://antigate.com/")
	c.SetDefault("bot.status", "online")
	c.SetDefault("bot.reLogin", true)
	c.SetDefault("webqq.sendQueueSize", 64)
	c.SetDefault("webqq.sendRetryDelay", "2s")
	c.SetDefault("webqq.pollRetryDelay", "5s")
	c.SetDefault("webqq.requestTimeout", "30s")
	c.SetDefault("webqq.maxRetry", 3)
	c.SetDefault("logLevel", "info")
	return c
}

// Init 从 ./application.yaml 或 ./config/application.yaml 读取配置并监听修改
func Init() error {
	GlobalConfig.SetConfigName("application")
	GlobalConfig.SetConfigType("yaml")
	GlobalConfig.AddConfigPath(".")
	GlobalConfig.AddConfigPath("./config")
	if err := GlobalConfig.ReadInConfig(); err != nil {
		return err
	}
	GlobalConfig.WatchConfig()
	return nil
}

// CronJob 一个定时发送群消息的任务
type CronJob struct {
	Cron    string
	Group   string
	Message string
}

// GetCronJobs 读取 cronjob 列表，缺少 cron 或 group 的条目会被忽略
func (c *Config) GetCronJobs() []CronJob {
	var result []CronJob
	for _, raw := range cast.ToSlice(c.Get("cronjob")) {
		m := cast.ToStringMap(raw)
		job := CronJob{
			Cron:    cast.ToString(m["cron"]),
			Group:   cast.ToString(m["group"]),
			Message: cast.ToString(m["message"]),
		}
		if job.Cron == "" || job.Group == "" {
			continue
		}
		result = append(result, job)
	}
	return result
}

// GetPositiveDuration 读取一个时长，非正数时返回 def
func (c *Config) GetPositiveDuration(key string, def time.Duration) time.Duration {
	d := c.GetDuration(key)
	if d <= 0 {
		return def
	}
	return d
}
