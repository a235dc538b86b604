package source

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tilehub/tilehub/internal/cache"
	"github.com/tilehub/tilehub/internal/config"
)

// Source 将来源配置与派生属性（生效 TTL、是否持久化）聚合在一起，供 HTTP 层直接复用。
type Source struct {
	// Name 同时决定磁盘目录 db-<Name>，保持配置中的原始大小写。
	Name        string
	ContentType string
	// TTL 是对当前来源生效的 TTL，若未覆盖则等于全局值。
	TTL        time.Duration
	Persistent bool
}

// Freshness 返回基于该来源 TTL 的新鲜度判断器。
func (s Source) Freshness() cache.Freshness {
	return cache.NewFreshness(s.TTL)
}

// Catalog 提供名称到 Source 的查询能力，名称查找不区分大小写。
type Catalog struct {
	sources map[string]*Source
	ordered []*Source
}

// NewCatalog 根据配置构建来源目录。调用方应在启动阶段创建一次并复用。
func NewCatalog(cfg *config.Config) (*Catalog, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	catalog := &Catalog{
		sources: make(map[string]*Source, len(cfg.Sources)),
	}
	for _, sc := range cfg.Sources {
		key := normalizeName(sc.Name)
		if key == "" {
			return nil, errors.New("source name is required")
		}
		if _, exists := catalog.sources[key]; exists {
			return nil, fmt.Errorf("duplicate source %s", sc.Name)
		}

		src := &Source{
			Name:        sc.Name,
			ContentType: sc.ContentType,
			TTL:         cfg.EffectiveTileTTL(sc),
			Persistent:  sc.AllowsStore(),
		}
		catalog.sources[key] = src
		catalog.ordered = append(catalog.ordered, src)
	}
	return catalog, nil
}

// Lookup 根据名称查找来源。
func (c *Catalog) Lookup(name string) (*Source, bool) {
	if c == nil {
		return nil, false
	}
	src, ok := c.sources[normalizeName(name)]
	return src, ok
}

// List 返回按配置顺序排列的来源副本。
func (c *Catalog) List() []Source {
	if c == nil || len(c.ordered) == 0 {
		return nil
	}
	result := make([]Source, len(c.ordered))
	for i, src := range c.ordered {
		result[i] = *src
	}
	return result
}

// AllowsStore 报告来源是否允许落盘，未配置的来源不允许。
func (c *Catalog) AllowsStore(name string) bool {
	_, allowed := c.ResolveStore(name)
	return allowed
}

// ResolveStore 实现 cache.StoragePolicy：返回配置中的原始名称，使 "OSM" 与 "osm" 落到同一目录。
func (c *Catalog) ResolveStore(name string) (string, bool) {
	src, ok := c.Lookup(name)
	if !ok {
		return "", false
	}
	return src.Name, src.Persistent
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
