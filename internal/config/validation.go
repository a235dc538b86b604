package config

import (
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"
)

const (
	minMaxOpenStores = 3
	minValueLogSize  = 1 << 20
	maxValueLogSize  = 2 << 30
)

var supportedCompression = map[string]struct{}{
	"none":   {},
	"snappy": {},
	"zstd":   {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := &c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MaxOpenStores < minMaxOpenStores {
		return newFieldError("Global.MaxOpenStores", fmt.Sprintf("不能小于 %d", minMaxOpenStores))
	}
	if g.DefaultTileTTL.DurationValue() < 0 {
		return newFieldError("Global.DefaultTileTTL", "不能为负数")
	}
	if g.MemTableSize < 0 {
		return newFieldError("Global.MemTableSize", "不能为负数")
	}
	if g.ValueLogFileSize != 0 && (g.ValueLogFileSize < minValueLogSize || g.ValueLogFileSize > maxValueLogSize) {
		return newFieldError("Global.ValueLogFileSize", "必须在 1MiB-2GiB 之间")
	}
	compression := strings.ToLower(strings.TrimSpace(g.Compression))
	if compression != "" {
		if _, ok := supportedCompression[compression]; !ok {
			return newFieldError("Global.Compression", "仅支持 none|snappy|zstd")
		}
		g.Compression = compression
	}

	if len(c.Sources) == 0 {
		return errors.New("至少需要配置一个 Source")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Sources {
		src := &c.Sources[i]
		if err := validateSourceName(src.Name); err != nil {
			return fmt.Errorf("%s: %w", sourceField(src.Name, "Name"), err)
		}
		key := strings.ToLower(src.Name)
		if _, exists := seenNames[key]; exists {
			return newFieldError(sourceField(src.Name, "Name"), "重复")
		}
		seenNames[key] = struct{}{}

		if src.TTL.DurationValue() < 0 {
			return newFieldError(sourceField(src.Name, "TTL"), "不能为负数")
		}
		if src.ContentType != "" {
			if _, _, err := mime.ParseMediaType(src.ContentType); err != nil {
				return newFieldError(sourceField(src.Name, "ContentType"), "不是合法的 MIME 类型")
			}
		}
	}

	return nil
}

// validateSourceName 要求名称可直接作为 db-<name> 的单级目录名。
func validateSourceName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("不能为空")
	}
	if name == "." || name == ".." {
		return errors.New("不能是 . 或 ..")
	}
	if strings.ContainsAny(name, `/\ `) {
		return errors.New("不允许包含路径分隔符或空格")
	}
	return nil
}

// EffectiveTileTTL 返回特定来源生效的 TTL，未覆盖时回退至全局值。
func (c *Config) EffectiveTileTTL(s SourceConfig) time.Duration {
	if s.TTL.DurationValue() > 0 {
		return s.TTL.DurationValue()
	}
	return c.Global.DefaultTileTTL.DurationValue()
}
