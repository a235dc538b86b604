package cache

import "time"

// Freshness 根据瓦片的 Expires 或 source 级 TTL 判断缓存是否仍可直接复用。
type Freshness struct {
	ttl time.Duration
	now func() time.Time
}

// NewFreshness 构造新鲜度判断器，默认使用 time.Now 作为时钟。
func NewFreshness(ttl time.Duration) Freshness {
	return Freshness{
		ttl: ttl,
		now: time.Now,
	}
}

// IsFresh 优先使用瓦片自带的 Expires；否则以 LastModified + TTL 作为过期时间。
func (f Freshness) IsFresh(rec TileRecord) bool {
	if rec.Expires != nil {
		return f.now().Before(*rec.Expires)
	}
	if f.ttl <= 0 || rec.LastModified == nil {
		return false
	}
	return f.now().Before(rec.LastModified.Add(f.ttl))
}

// MaxAge 返回距离过期的剩余时间，已过期或无法判断时为 0。
func (f Freshness) MaxAge(rec TileRecord) time.Duration {
	var expireAt time.Time
	switch {
	case rec.Expires != nil:
		expireAt = *rec.Expires
	case f.ttl > 0 && rec.LastModified != nil:
		expireAt = rec.LastModified.Add(f.ttl)
	default:
		return 0
	}
	if remaining := expireAt.Sub(f.now()); remaining > 0 {
		return remaining
	}
	return 0
}
