package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
DefaultTileTTL = "boom"

[[Source]]
Name = "osm"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsSecondsDuration(t *testing.T) {
	cfg := `
StoragePath = "./data"

[[Source]]
Name = "osm"
TTL = 3600
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if got := loaded.EffectiveTileTTL(loaded.Sources[0]); got != time.Hour {
		t.Fatalf("纯秒数 TTL 应解析为 1h，得到 %v", got)
	}
}

func TestLoadRejectsSourceLevelStoragePath(t *testing.T) {
	cfg := `
StoragePath = "./data"

[[Source]]
Name = "osm"
StoragePath = "/tmp/osm"
`
	_, err := Load(writeTempConfig(t, cfg))
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("来源级 StoragePath 应返回 FieldError，得到 %v", err)
	}
}
