package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZookeeperProvider loads config from a ZooKeeper znode and watches it for changes.
type ZookeeperProvider struct {
	conn *zk.Conn
	path string

	mu     sync.Mutex
	closed bool
}

// NewZookeeperProvider connects to the given ensemble and targets path as the config node.
func NewZookeeperProvider(endpoints []string, path string) (*ZookeeperProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("zookeeper endpoints are required")
	}
	if path == "" {
		return nil, fmt.Errorf("zookeeper path is required")
	}

	conn, _, err := zk.Connect(endpoints, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}

	return &ZookeeperProvider{conn: conn, path: path}, nil
}

// Type returns TypeZookeeper.
func (p *ZookeeperProvider) Type() Type {
	return TypeZookeeper
}

// Load reads the current znode content.
func (p *ZookeeperProvider) Load(ctx context.Context) ([]byte, error) {
	data, _, err := p.conn.Get(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zookeeper path %s: %w", p.path, err)
	}
	return data, nil
}

// Watch starts watching the znode for data changes.
// Returns a channel that receives a value when the znode changes.
func (p *ZookeeperProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("provider is closed")
	}

	ch := make(chan struct{}, 1)
	go p.watchLoop(ctx, ch)
	return ch, nil
}

func (p *ZookeeperProvider) watchLoop(ctx context.Context, ch chan<- struct{}) {
	defer close(ch)

	for {
		_, _, eventCh, err := p.conn.GetW(p.path)
		if err != nil {
			slog.Error("zookeeper watch setup failed", "path", p.path, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			switch event.Type {
			case zk.EventNodeDataChanged:
				select {
				case ch <- struct{}{}:
				default:
				}
			case zk.EventNodeDeleted:
				slog.Warn("zookeeper config node deleted", "path", p.path)
				return
			case zk.EventNotWatching:
				slog.Warn("zookeeper watch lost", "path", p.path)
				return
			}
		}
	}
}

// Close releases the ZooKeeper connection.
func (p *ZookeeperProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}

var _ Provider = (*ZookeeperProvider)(nil)
