package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrBacklogFull is returned by Submit when the pool's backlog is at
	// its limit. It maps to RESOURCE_EXHAUSTED at the call boundary.
	ErrBacklogFull = errors.New("worker pool backlog full")

	// ErrPoolDraining is returned by Submit once a drain has begun. It
	// maps to UNAVAILABLE at the call boundary.
	ErrPoolDraining = errors.New("worker pool draining")
)

// Pool is a fixed-size set of workers, each owning one instance of every
// registered service. A worker executes one unit of work at a time, so
// instance state needs no internal synchronization. Work is drawn from one
// shared bounded backlog, which keeps distribution fair: any idle worker
// takes the next unit.
type Pool struct {
	conf    PoolConfig
	backlog chan *poolTask
	wg      sync.WaitGroup

	mu       sync.Mutex
	started  bool
	draining bool
}

type PoolConfig struct {
	// Size is the worker count; DefaultPoolSize when zero.
	Size int

	// Backlog bounds queued work beyond the executing workers;
	// DefaultBacklog when zero.
	Backlog int
}

type poolTask struct {
	service string
	run     func(svc interface{})
	done    chan struct{}
}

func NewPool(conf PoolConfig) *Pool {
	if conf.Size <= 0 {
		conf.Size = DefaultPoolSize
	}
	if conf.Backlog <= 0 {
		conf.Backlog = DefaultBacklog
	}
	return &Pool{
		conf:    conf,
		backlog: make(chan *poolTask, conf.Backlog),
	}
}

// Size returns the worker count.
func (p *Pool) Size() int {
	return p.conf.Size
}

// Start creates Size instances of every registered service through its
// factory and launches the workers. Any factory failure aborts startup.
func (p *Pool) Start(factories map[string]InstanceFactory) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("pool already started")
	}

	workers := make([]map[string]interface{}, p.conf.Size)
	for i := range workers {
		instances := make(map[string]interface{}, len(factories))
		for name, factory := range factories {
			inst, err := factory()
			if err != nil {
				return fmt.Errorf("failed to create instance of service %s: %w", name, err)
			}
			instances[name] = inst
		}
		workers[i] = instances
	}

	p.started = true
	for _, instances := range workers {
		p.wg.Add(1)
		go p.worker(instances)
	}
	return nil
}

func (p *Pool) worker(instances map[string]interface{}) {
	defer p.wg.Done()
	for task := range p.backlog {
		task.run(instances[task.service])
		close(task.done)
	}
}

// Submit enqueues work against the named service. It never blocks: a full
// backlog is ErrBacklogFull, a draining pool is ErrPoolDraining. The
// returned channel closes when the work has finished executing.
func (p *Pool) Submit(service string, run func(svc interface{})) (<-chan struct{}, error) {
	p.mu.Lock()
	if !p.started || p.draining {
		p.mu.Unlock()
		return nil, ErrPoolDraining
	}

	task := &poolTask{service: service, run: run, done: make(chan struct{})}
	select {
	case p.backlog <- task:
		p.mu.Unlock()
		return task.done, nil
	default:
		p.mu.Unlock()
		return nil, ErrBacklogFull
	}
}

// Drain stops intake, lets queued and in-flight work finish, and releases
// the workers. It returns early with ctx's error if the context expires
// first.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	if !p.started || p.draining {
		p.mu.Unlock()
		return nil
	}
	p.draining = true
	close(p.backlog)
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
