package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/tilehub/tilehub/internal/cache"
	"github.com/tilehub/tilehub/internal/logging"
	"github.com/tilehub/tilehub/internal/source"
)

// tileHandler 负责 /tiles 路由：读取、写入瓦片以及清理来源存储。
type tileHandler struct {
	logger *logrus.Logger
	store  TileStore
}

func (h *tileHandler) getTile(c fiber.Ctx, src *source.Source) error {
	key, err := parseTileKey(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_tile_key"})
	}

	rec, hit := h.store.GetTile(requestContext(c), src.Name, key)
	h.logRequest(c, src, key, hit).Debug("tile lookup")
	if !hit {
		c.Set("X-Tile-Cache", "miss")
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "tile_not_found"})
	}

	freshness := src.Freshness()
	c.Set("X-Tile-Cache", "hit")
	c.Set("X-Tile-Fresh", strconv.FormatBool(freshness.IsFresh(rec)))
	if rec.LastModified != nil {
		c.Set(fiber.HeaderLastModified, rec.LastModified.UTC().Format(http.TimeFormat))
	}
	if rec.Expires != nil {
		c.Set(fiber.HeaderExpires, rec.Expires.UTC().Format(http.TimeFormat))
	}
	if maxAge := freshness.MaxAge(rec); maxAge > 0 {
		c.Set(fiber.HeaderCacheControl, fmt.Sprintf("max-age=%d", int64(maxAge/time.Second)))
	}
	if rec.ETag != "" {
		c.Set(fiber.HeaderETag, rec.ETag)
		if etagMatches(c.Get(fiber.HeaderIfNoneMatch), rec.ETag) {
			return c.SendStatus(fiber.StatusNotModified)
		}
	}

	c.Set(fiber.HeaderContentType, src.ContentType)
	return c.Status(fiber.StatusOK).Send(rec.Data)
}

func (h *tileHandler) putTile(c fiber.Ctx, src *source.Source) error {
	if !src.Persistent {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "store_disabled"})
	}
	key, err := parseTileKey(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_tile_key"})
	}
	body := c.Body()
	if len(body) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "empty_tile"})
	}
	// fasthttp 会复用请求缓冲区，写入前必须复制。
	data := append([]byte(nil), body...)

	opts := cache.PutOptions{
		LastModified: parseHTTPTime(c.Get(fiber.HeaderLastModified)),
		Expires:      parseHTTPTime(c.Get(fiber.HeaderExpires)),
		ETag:         strings.TrimSpace(c.Get(fiber.HeaderETag)),
	}
	if opts.LastModified == nil {
		now := time.Now().UTC()
		opts.LastModified = &now
	}

	if err := h.store.PutTile(requestContext(c), src.Name, key, data, opts); err != nil {
		h.logRequest(c, src, key, false).WithError(err).Warn("tile write interrupted")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "write_interrupted"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *tileHandler) clearStore(c fiber.Ctx, src *source.Source) error {
	if err := h.store.ClearStore(requestContext(c), src.Name); err != nil {
		h.logger.WithFields(logging.StoreFields("clear_store", src.Name)).
			WithField("request_id", RequestID(c)).
			WithError(err).Warn("clear interrupted")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "clear_interrupted"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *tileHandler) logRequest(c fiber.Ctx, src *source.Source, key cache.TileKey, hit bool) *logrus.Entry {
	fields := logging.RequestFields(src.Name, key.Zoom, key.X, key.Y, hit)
	fields["action"] = "tile_request"
	fields["method"] = c.Method()
	fields["request_id"] = RequestID(c)
	return h.logger.WithFields(fields)
}

// parseTileKey 解析 :z/:x/:y，y 允许带扩展名（例如 5.png）。
func parseTileKey(c fiber.Ctx) (cache.TileKey, error) {
	z, err := strconv.Atoi(c.Params("z"))
	if err != nil {
		return cache.TileKey{}, fmt.Errorf("zoom: %w", err)
	}
	x, err := strconv.Atoi(c.Params("x"))
	if err != nil {
		return cache.TileKey{}, fmt.Errorf("x: %w", err)
	}
	rawY := c.Params("y")
	if idx := strings.IndexByte(rawY, '.'); idx >= 0 {
		rawY = rawY[:idx]
	}
	y, err := strconv.Atoi(rawY)
	if err != nil {
		return cache.TileKey{}, fmt.Errorf("y: %w", err)
	}

	key := cache.TileKey{X: x, Y: y, Zoom: z}
	if !key.Valid() {
		return cache.TileKey{}, fmt.Errorf("tile %s out of range", key)
	}
	return key, nil
}

func parseHTTPTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parsed, err := http.ParseTime(raw)
	if err != nil {
		return nil
	}
	parsed = parsed.UTC()
	return &parsed
}

func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}
