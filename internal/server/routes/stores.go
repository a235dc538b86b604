package routes

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"

	"github.com/tilehub/tilehub/internal/cache"
	"github.com/tilehub/tilehub/internal/source"
)

// StoreInspector 是诊断接口依赖的缓存能力，*cache.TileCache 实现了它。
type StoreInspector interface {
	OpenStores() []cache.StoreInfo
	Sources() ([]string, error)
	StoreExists(source string) bool
	TileCount(ctx context.Context, source string) int64
	StoreSizeBytes(ctx context.Context, source string) (int64, error)
	TotalSizeBytes(ctx context.Context) (int64, error)
	CompactStore(ctx context.Context, source string) error
	CloseAll(shutdown bool)
}

// RegisterStoreRoutes 暴露 /-/stores 与 /-/maintenance 诊断接口，供运维查询与维护各来源的存储。
func RegisterStoreRoutes(app *fiber.App, catalog *source.Catalog, stores StoreInspector) {
	if app == nil || catalog == nil || stores == nil {
		return
	}

	app.Get("/-/stores", func(c fiber.Ctx) error {
		ctx := requestContext(c)
		onDisk, err := stores.Sources()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "list_stores_failed"})
		}
		total, err := stores.TotalSizeBytes(ctx)
		if err != nil {
			return renderSizeError(c, err)
		}
		return c.JSON(fiber.Map{
			"open":             encodeOpenStores(stores.OpenStores()),
			"sources":          encodeSources(catalog.List(), stores),
			"on_disk":          onDisk,
			"total_size_bytes": total,
			"total_size":       humanize.Bytes(uint64(total)),
		})
	})

	app.Get("/-/stores/:source", func(c fiber.Ctx) error {
		src, ok := catalog.Lookup(c.Params("source"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "source_unknown"})
		}
		ctx := requestContext(c)
		payload := storeDetailPayload{
			Source:     src.Name,
			Persistent: src.Persistent,
			Exists:     stores.StoreExists(src.Name),
		}
		if payload.Exists {
			payload.TileCount = stores.TileCount(ctx, src.Name)
			size, err := stores.StoreSizeBytes(ctx, src.Name)
			if err != nil {
				return renderSizeError(c, err)
			}
			payload.SizeBytes = size
		}
		payload.Size = humanize.Bytes(uint64(payload.SizeBytes))
		return c.JSON(payload)
	})

	app.Post("/-/stores/:source/compact", func(c fiber.Ctx) error {
		src, ok := catalog.Lookup(c.Params("source"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "source_unknown"})
		}
		if !src.Persistent {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "store_disabled"})
		}
		if err := stores.CompactStore(requestContext(c), src.Name); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "compact_failed"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Post("/-/maintenance/close", func(c fiber.Ctx) error {
		stores.CloseAll(false)
		return c.SendStatus(fiber.StatusNoContent)
	})
}

type openStorePayload struct {
	Source     string `json:"source"`
	LastAccess string `json:"last_access"`
	IdleFor    string `json:"idle_for"`
}

type sourcePayload struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	TTLSeconds  int64  `json:"ttl_seconds"`
	Persistent  bool   `json:"persistent"`
	Exists      bool   `json:"exists"`
}

type storeDetailPayload struct {
	Source     string `json:"source"`
	Persistent bool   `json:"persistent"`
	Exists     bool   `json:"exists"`
	TileCount  int64  `json:"tile_count"`
	SizeBytes  int64  `json:"size_bytes"`
	Size       string `json:"size"`
}

func encodeOpenStores(infos []cache.StoreInfo) []openStorePayload {
	if len(infos) == 0 {
		return nil
	}
	result := make([]openStorePayload, 0, len(infos))
	for _, info := range infos {
		result = append(result, openStorePayload{
			Source:     info.Source,
			LastAccess: info.LastAccess.UTC().Format(time.RFC3339),
			IdleFor:    humanize.Time(info.LastAccess),
		})
	}
	return result
}

func encodeSources(sources []source.Source, stores StoreInspector) []sourcePayload {
	if len(sources) == 0 {
		return nil
	}
	result := make([]sourcePayload, 0, len(sources))
	for _, src := range sources {
		result = append(result, sourcePayload{
			Name:        src.Name,
			ContentType: src.ContentType,
			TTLSeconds:  int64(src.TTL / time.Second),
			Persistent:  src.Persistent,
			Exists:      stores.StoreExists(src.Name),
		})
	}
	return result
}

func renderSizeError(c fiber.Ctx, err error) error {
	if cache.IsInterrupted(err) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "interrupted"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "size_failed"})
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
