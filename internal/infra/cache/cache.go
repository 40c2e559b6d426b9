// Package cache provides in-memory caching for video metadata lookups.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

// MetadataCache caches single-video metadata so that re-submitting the same
// IDs does not spawn another yt-dlp probe. Channel and playlist listings are
// never cached: watch polls must see new uploads.
type MetadataCache struct {
	cache *gocache.Cache
}

// NewMetadataCache creates a cache with the given TTL and cleanup interval.
func NewMetadataCache(ttl, cleanupInterval time.Duration) *MetadataCache {
	return &MetadataCache{
		cache: gocache.New(ttl, cleanupInterval),
	}
}

// DefaultMetadataCache uses a one hour TTL and a ten minute sweep.
func DefaultMetadataCache() *MetadataCache {
	return NewMetadataCache(time.Hour, 10*time.Minute)
}

// Video returns cached metadata for a video ID.
func (c *MetadataCache) Video(videoID string) (*domain.VideoInfo, bool) {
	if item, found := c.cache.Get(videoKey(videoID)); found {
		if info, ok := item.(*domain.VideoInfo); ok {
			return info, true
		}
	}
	return nil, false
}

// StoreVideo caches metadata for a video ID.
func (c *MetadataCache) StoreVideo(videoID string, info *domain.VideoInfo) {
	c.cache.Set(videoKey(videoID), info, gocache.DefaultExpiration)
}

// Forget drops a video ID.
func (c *MetadataCache) Forget(videoID string) {
	c.cache.Delete(videoKey(videoID))
}

// Len returns the number of cached entries.
func (c *MetadataCache) Len() int {
	return c.cache.ItemCount()
}

func videoKey(id string) string { return "video:" + id }
