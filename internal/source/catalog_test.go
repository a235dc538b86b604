package source

import (
	"testing"
	"time"

	"github.com/tilehub/tilehub/internal/cache"
	"github.com/tilehub/tilehub/internal/config"
)

var _ cache.StoragePolicy = (*Catalog)(nil)

func testConfig() *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{
			DefaultTileTTL: config.Duration(time.Hour),
		},
		Sources: []config.SourceConfig{
			{Name: "osm", ContentType: "image/png"},
			{Name: "Topo", ContentType: "image/jpeg", TTL: config.Duration(2 * time.Hour)},
			{Name: "traffic", ContentType: "image/png", DisableStore: true},
		},
	}
}

func TestCatalogLookup(t *testing.T) {
	catalog, err := NewCatalog(testConfig())
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}

	src, ok := catalog.Lookup("TOPO")
	if !ok {
		t.Fatalf("lookup should be case-insensitive")
	}
	if src.Name != "Topo" {
		t.Fatalf("expected configured name to be kept, got %s", src.Name)
	}
	if src.TTL != 2*time.Hour {
		t.Fatalf("expected source TTL override, got %v", src.TTL)
	}

	osm, _ := catalog.Lookup("osm")
	if osm.TTL != time.Hour {
		t.Fatalf("expected global TTL fallback, got %v", osm.TTL)
	}
	if _, ok := catalog.Lookup("missing"); ok {
		t.Fatalf("unknown source should not resolve")
	}
}

func TestCatalogAllowsStore(t *testing.T) {
	catalog, err := NewCatalog(testConfig())
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	if !catalog.AllowsStore("osm") {
		t.Fatalf("osm should allow persistent storage")
	}
	if catalog.AllowsStore("traffic") {
		t.Fatalf("traffic disables persistent storage")
	}
	if catalog.AllowsStore("unknown") {
		t.Fatalf("unknown sources must not be stored")
	}
}

func TestCatalogResolveStoreReturnsConfiguredName(t *testing.T) {
	catalog, err := NewCatalog(testConfig())
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	for _, input := range []string{"topo", "TOPO", " Topo "} {
		name, allowed := catalog.ResolveStore(input)
		if name != "Topo" || !allowed {
			t.Fatalf("%q: expected Topo/allowed, got %q/%v", input, name, allowed)
		}
	}
	if name, allowed := catalog.ResolveStore("traffic"); name != "traffic" || allowed {
		t.Fatalf("traffic should resolve but deny storage, got %q/%v", name, allowed)
	}
	if name, allowed := catalog.ResolveStore("unknown"); name != "" || allowed {
		t.Fatalf("unknown source should not resolve, got %q/%v", name, allowed)
	}
}

func TestCatalogListKeepsOrder(t *testing.T) {
	catalog, err := NewCatalog(testConfig())
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	list := catalog.List()
	if len(list) != 3 || list[0].Name != "osm" || list[1].Name != "Topo" || list[2].Name != "traffic" {
		t.Fatalf("unexpected order: %+v", list)
	}
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	cfg := testConfig()
	cfg.Sources = append(cfg.Sources, config.SourceConfig{Name: "OSM"})
	if _, err := NewCatalog(cfg); err == nil {
		t.Fatalf("duplicate source should fail")
	}
}
