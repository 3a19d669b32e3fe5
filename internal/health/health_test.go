package health

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyRegistryIsHealthy(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}

func TestAllChecksPass(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(context.Context) (string, error) { return "", nil })
	r.Register("usage_source", func(context.Context) (string, error) { return "closed", nil })

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	require.Len(t, statuses, 2)

	// Registration order is preserved and names are stamped by the registry.
	assert.Equal(t, "database", statuses[0].Name)
	assert.True(t, statuses[0].Healthy)
	assert.Equal(t, Status{Name: "usage_source", Healthy: true, Detail: "closed"}, statuses[1])
}

func TestFailingCheckDegradesAggregate(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(context.Context) (string, error) { return "", nil })
	r.Register("usage_source", func(context.Context) (string, error) {
		return "ignored", errors.New("circuit open")
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 2)
	assert.False(t, statuses[1].Healthy)
	assert.Equal(t, "circuit open", statuses[1].Detail, "error message replaces detail")
}

func TestReRegisterReplacesChecker(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(context.Context) (string, error) { return "", errors.New("down") })
	r.Register("database", func(context.Context) (string, error) { return "", nil })

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Len(t, statuses, 1)
}

func TestConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("worker", func(context.Context) (string, error) { return "", nil })
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()
}
