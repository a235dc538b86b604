package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}
	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述服务与缓存的全局参数，所有 source 共享。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	// StoragePath 是缓存根目录，包含 lock 文件与 db-<source> 目录。
	StoragePath    string   `mapstructure:"StoragePath"`
	MaxOpenStores  int      `mapstructure:"MaxOpenStores"`
	DefaultTileTTL Duration `mapstructure:"DefaultTileTTL"`
	// 以下为引擎调优参数，0 表示使用引擎默认值。
	SyncWrites       bool   `mapstructure:"SyncWrites"`
	MemTableSize     int64  `mapstructure:"MemTableSize"`
	ValueLogFileSize int64  `mapstructure:"ValueLogFileSize"`
	Compression      string `mapstructure:"Compression"`
}

// SourceConfig 描述一个瓦片来源。
type SourceConfig struct {
	Name        string   `mapstructure:"Name"`
	ContentType string   `mapstructure:"ContentType"`
	TTL         Duration `mapstructure:"TTL"`
	// DisableStore 为 true 时该来源的瓦片不落盘（例如实时图层）。
	DisableStore bool `mapstructure:"DisableStore"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Sources []SourceConfig `mapstructure:"Source"`
}

// AllowsStore 表示该来源是否允许持久化。
func (s SourceConfig) AllowsStore() bool {
	return !s.DisableStore
}

// StoreModes 返回所有来源的存储模式摘要，例如 osm:persistent。
func StoreModes(sources []SourceConfig) []string {
	if len(sources) == 0 {
		return nil
	}
	result := make([]string, len(sources))
	for i, src := range sources {
		mode := "persistent"
		if !src.AllowsStore() {
			mode = "transient"
		}
		result[i] = fmt.Sprintf("%s:%s", src.Name, mode)
	}
	return result
}
