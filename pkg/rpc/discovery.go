package rpc

import (
	"context"
	"fmt"

	"github.com/kestrelrpc/kestrel/pkg/registry"
)

// DialRegistry resolves serviceName through the registry, picks one
// instance, and dials it with the given scheme. Resolution happens once,
// at dial time; the returned Channel stays pinned to the chosen instance.
func DialRegistry(ctx context.Context, reg registry.Registry, picker registry.Picker, serviceName, scheme string, conf ChannelConfig) (*Channel, error) {
	instances, err := reg.Discover(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to discover service %q: %w", serviceName, err)
	}
	inst, err := picker.Pick(instances)
	if err != nil {
		return nil, fmt.Errorf("failed to pick instance of %q: %w", serviceName, err)
	}
	return Dial(scheme, inst.Addr, conf)
}
