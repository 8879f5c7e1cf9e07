package registry

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/kestrel/"

// EtcdRegistry implements Registry on etcd v3. Keys are laid out as
// /kestrel/{service}/{addr} with JSON-encoded instance metadata, attached
// to a TTL lease that is renewed in the background for as long as the
// registering process lives.
type EtcdRegistry struct {
	client *clientv3.Client
}

func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

func serviceKey(serviceName, addr string) string {
	return keyPrefix + serviceName + "/" + addr
}

func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttlSeconds int64) error {
	lease, err := r.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, serviceKey(serviceName, instance.Addr), string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// Background renewal keeps the lease alive; if this process dies the
	// lease expires and the entry removes itself.
	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	_, err := r.client.Delete(ctx, serviceKey(serviceName, addr))
	return err
}

func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, keyPrefix+serviceName+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch emits a fresh instance list on every change under the service
// prefix until ctx is cancelled.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, keyPrefix+serviceName+"/", clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, serviceName)
			if err != nil {
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
