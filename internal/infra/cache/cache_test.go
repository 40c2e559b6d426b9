package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

func TestVideoRoundTrip(t *testing.T) {
	c := NewMetadataCache(time.Minute, time.Minute)
	_, ok := c.Video("abc")
	assert.False(t, ok)

	c.StoreVideo("abc", &domain.VideoInfo{ID: "abc", Title: "A"})
	got, ok := c.Video("abc")
	require.True(t, ok)
	assert.Equal(t, "A", got.Title)
	assert.Equal(t, 1, c.Len())

	c.Forget("abc")
	_, ok = c.Video("abc")
	assert.False(t, ok)
}

func TestVideoExpires(t *testing.T) {
	c := NewMetadataCache(10*time.Millisecond, time.Hour)
	c.StoreVideo("abc", &domain.VideoInfo{ID: "abc"})
	time.Sleep(30 * time.Millisecond)
	_, ok := c.Video("abc")
	assert.False(t, ok)
}
