package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdProvider loads config from an etcd key and watches it for changes.
type EtcdProvider struct {
	client *clientv3.Client
	key    string

	mu     sync.Mutex
	closed bool
}

// NewEtcdProvider creates a provider backed by an etcd key.
func NewEtcdProvider(endpoints []string, key string) (*EtcdProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}
	if key == "" {
		return nil, fmt.Errorf("etcd key is required")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	return &EtcdProvider{client: client, key: key}, nil
}

// Type returns TypeEtcd.
func (p *EtcdProvider) Type() Type {
	return TypeEtcd
}

// Load reads the current value of the key.
func (p *EtcdProvider) Load(ctx context.Context) ([]byte, error) {
	resp, err := p.client.Get(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read etcd key %s: %w", p.key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("etcd key %s not found", p.key)
	}
	return resp.Kvs[0].Value, nil
}

// Watch subscribes to etcd's native watch stream for the key.
func (p *EtcdProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("provider is closed")
	}
	p.mu.Unlock()

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		watchCh := p.client.Watch(ctx, p.key)
		for resp := range watchCh {
			if resp.Canceled {
				return
			}
			if len(resp.Events) > 0 {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()
	return ch, nil
}

// Close releases the etcd client's connection.
func (p *EtcdProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.client.Close()
}

var _ Provider = (*EtcdProvider)(nil)
