package control

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

func TestFirstRequestWins(t *testing.T) {
	c := New()
	_, ok := c.Pending()
	assert.False(t, ok)
	require.NoError(t, c.Check())

	c.RequestPause()
	c.RequestStop()

	r, ok := c.Pending()
	require.True(t, ok)
	assert.Equal(t, domain.ReasonPaused, r)
}

func TestStopIsIdempotent(t *testing.T) {
	once := New()
	once.RequestStop()

	twice := New()
	twice.RequestStop()
	twice.RequestStop()

	r1, _ := once.Pending()
	r2, _ := twice.Pending()
	assert.Equal(t, r1, r2)

	var interrupted *domain.InterruptedError
	require.True(t, errors.As(twice.Check(), &interrupted))
	assert.Equal(t, domain.ReasonStopped, interrupted.Reason)
}

func TestConcurrentRequestsCloseDoneOnce(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				c.RequestPause()
			} else {
				c.RequestStop()
			}
		}(i)
	}
	wg.Wait()

	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed")
	}
	_, ok := c.Pending()
	assert.True(t, ok)
}
