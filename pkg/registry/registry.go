// Package registry provides service registration and discovery for
// channels that resolve a service name instead of a fixed authority, plus
// the pickers that choose among discovered instances.
package registry

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
)

// ServiceInstance is one registered endpoint of a named service.
type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"`
	Version string `json:"version,omitempty"`
}

// Registry registers local instances and discovers remote ones.
// Registrations are lease-based: an instance whose owner stops renewing
// disappears on its own rather than lingering as a ghost.
type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttlSeconds int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
	Close() error
}

// Picker chooses one instance from a discovered set.
type Picker interface {
	Pick(instances []ServiceInstance) (*ServiceInstance, error)
	Name() string
}

// RoundRobinPicker distributes picks evenly across instances using an
// atomic counter, lock-free under concurrent use.
type RoundRobinPicker struct {
	counter int64
}

func (p *RoundRobinPicker) Pick(instances []ServiceInstance) (*ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no instances available")
	}
	index := atomic.AddInt64(&p.counter, 1) % int64(len(instances))
	return &instances[index], nil
}

func (p *RoundRobinPicker) Name() string {
	return "RoundRobin"
}

// WeightedRandomPicker picks proportionally to instance weight.
type WeightedRandomPicker struct{}

func (p *WeightedRandomPicker) Pick(instances []ServiceInstance) (*ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no instances available")
	}

	totalWeight := 0
	for _, inst := range instances {
		totalWeight += inst.Weight
	}
	if totalWeight <= 0 {
		return &instances[rand.Intn(len(instances))], nil
	}

	r := rand.Intn(totalWeight)
	for i := range instances {
		r -= instances[i].Weight
		if r < 0 {
			return &instances[i], nil
		}
	}
	return nil, fmt.Errorf("unexpected error in weighted random selection")
}

func (p *WeightedRandomPicker) Name() string {
	return "WeightedRandom"
}
