package rpc_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelrpc/kestrel/pkg/rpc"
)

type counterService struct {
	units atomic.Int64
}

func startPool(t *testing.T, conf rpc.PoolConfig) (*rpc.Pool, *counterService) {
	t.Helper()
	pool := rpc.NewPool(conf)
	svc := &counterService{}
	err := pool.Start(map[string]rpc.InstanceFactory{
		"Counter": func() (interface{}, error) { return svc, nil },
	})
	require.NoError(t, err)
	return pool, svc
}

func TestPoolRunsEveryUnit(t *testing.T) {
	pool, svc := startPool(t, rpc.PoolConfig{Size: 4, Backlog: 256})

	const units = 100
	var wg sync.WaitGroup
	for i := 0; i < units; i++ {
		done, err := pool.Submit("Counter", func(inst interface{}) {
			inst.(*counterService).units.Add(1)
		})
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-done
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(units), svc.units.Load())
	require.NoError(t, pool.Drain(context.Background()))
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool, _ := startPool(t, rpc.PoolConfig{Size: 4, Backlog: 256})
	require.Equal(t, 4, pool.Size())

	var active, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		done, err := pool.Submit("Counter", func(interface{}) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
		})
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-done
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(pool.Size()))
	assert.Positive(t, peak.Load())
	require.NoError(t, pool.Drain(context.Background()))
}

func TestPoolBacklogFull(t *testing.T) {
	pool, _ := startPool(t, rpc.PoolConfig{Size: 1, Backlog: 1})

	gate := make(chan struct{})
	running := make(chan struct{})
	_, err := pool.Submit("Counter", func(interface{}) {
		close(running)
		<-gate
	})
	require.NoError(t, err)
	<-running

	// The worker is occupied; this one fills the backlog.
	_, err = pool.Submit("Counter", func(interface{}) { <-gate })
	require.NoError(t, err)

	_, err = pool.Submit("Counter", func(interface{}) {})
	require.ErrorIs(t, err, rpc.ErrBacklogFull)

	close(gate)
	require.NoError(t, pool.Drain(context.Background()))
}

func TestPoolDrain(t *testing.T) {
	pool, svc := startPool(t, rpc.PoolConfig{Size: 2, Backlog: 16})

	gate := make(chan struct{})
	running := make(chan struct{})
	_, err := pool.Submit("Counter", func(inst interface{}) {
		close(running)
		<-gate
		inst.(*counterService).units.Add(1)
	})
	require.NoError(t, err)
	<-running

	// A queued unit must still run to completion during the drain.
	queued, err := pool.Submit("Counter", func(inst interface{}) {
		inst.(*counterService).units.Add(1)
	})
	require.NoError(t, err)

	drained := make(chan error, 1)
	go func() {
		drained <- pool.Drain(context.Background())
	}()

	// Intake is refused as soon as the drain begins.
	require.Eventually(t, func() bool {
		_, err := pool.Submit("Counter", func(interface{}) {})
		return errors.Is(err, rpc.ErrPoolDraining)
	}, 2*time.Second, 5*time.Millisecond)

	close(gate)
	require.NoError(t, <-drained)
	<-queued
	assert.Equal(t, int64(2), svc.units.Load())
}

func TestPoolDrainRespectsContext(t *testing.T) {
	pool, _ := startPool(t, rpc.PoolConfig{Size: 1, Backlog: 1})

	gate := make(chan struct{})
	defer close(gate)
	running := make(chan struct{})
	_, err := pool.Submit("Counter", func(interface{}) {
		close(running)
		<-gate
	})
	require.NoError(t, err)
	<-running

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, pool.Drain(ctx), context.DeadlineExceeded)
}

func TestPoolFactoryFailure(t *testing.T) {
	pool := rpc.NewPool(rpc.PoolConfig{Size: 2})
	err := pool.Start(map[string]rpc.InstanceFactory{
		"Broken": func() (interface{}, error) { return nil, errors.New("out of handles") },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of handles")
}
