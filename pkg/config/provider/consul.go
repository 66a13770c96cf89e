package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

// ConsulProvider loads config from a Consul KV key and watches it via blocking queries.
type ConsulProvider struct {
	client *consulapi.Client
	key    string

	mu         sync.Mutex
	closed     bool
	lastIndex  uint64
}

// NewConsulProvider creates a provider backed by Consul's KV store.
func NewConsulProvider(endpoints []string, key string) (*ConsulProvider, error) {
	if key == "" {
		return nil, fmt.Errorf("consul key is required")
	}

	cfg := consulapi.DefaultConfig()
	if len(endpoints) > 0 {
		cfg.Address = endpoints[0]
	}

	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulProvider{client: client, key: key}, nil
}

// Type returns TypeConsul.
func (p *ConsulProvider) Type() Type {
	return TypeConsul
}

// Load reads the current value of the KV key.
func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	pair, _, err := p.client.KV().Get(p.key, (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", p.key)
	}
	p.mu.Lock()
	p.lastIndex = pair.ModifyIndex
	p.mu.Unlock()
	return pair.Value, nil
}

// Watch long-polls Consul for changes to the key using its blocking-query support.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("provider is closed")
	}
	p.mu.Unlock()

	ch := make(chan struct{}, 1)
	go p.watchLoop(ctx, ch)
	return ch, nil
}

func (p *ConsulProvider) watchLoop(ctx context.Context, ch chan<- struct{}) {
	defer close(ch)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.mu.Lock()
		waitIndex := p.lastIndex
		p.mu.Unlock()

		opts := (&consulapi.QueryOptions{WaitIndex: waitIndex, WaitTime: 5 * time.Minute}).WithContext(ctx)
		pair, meta, err := p.client.KV().Get(p.key, opts)
		if err != nil {
			slog.Error("consul watch failed", "key", p.key, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}
		if pair == nil {
			continue
		}

		p.mu.Lock()
		changed := meta.LastIndex != p.lastIndex
		p.lastIndex = meta.LastIndex
		p.mu.Unlock()

		if changed {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

// Close is a no-op; the Consul client holds no long-lived connection to release.
func (p *ConsulProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var _ Provider = (*ConsulProvider)(nil)
