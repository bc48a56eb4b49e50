package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
	"github.com/sportygroup/qa-goldenpath/internal/registry"
)

func TestExecutor_ConcurrentStartsShareOneExecution(t *testing.T) {
	e := NewExecutor()
	var calls int32
	var mu sync.Mutex
	start := make(chan struct{})

	fn := func() error {
		mu.Lock()
		calls++
		mu.Unlock()
		<-start
		return nil
	}

	var wg sync.WaitGroup
	sharedFlags := make([]bool, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			shared, err := e.Start(fn)
			require.NoError(t, err)
			sharedFlags[i] = shared
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(start)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), calls)
}

func TestPoller_ReturnsImmediatelyWhenAlreadyChanged(t *testing.T) {
	reg := registry.New()
	reg.Publish(model.NewRun(1, "r1", "alice", "us", nil))
	_, v0 := reg.Snapshot()
	reg.Publish(model.NewRun(2, "r2", "alice", "us", nil))

	p := NewPoller(reg)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	run, v, changed := p.Wait(ctx, v0)
	require.True(t, changed)
	assert.Equal(t, "r2", run.ID)
	assert.NotEqual(t, v0, v)
}

func TestPoller_ReturnsFalseOnContextDone(t *testing.T) {
	reg := registry.New()
	reg.Publish(model.NewRun(1, "r1", "alice", "us", nil))
	_, v0 := reg.Snapshot()

	p := NewPoller(reg)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, changed := p.Wait(ctx, v0)
	assert.False(t, changed)
}
