package candles

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// Client fetches daily candles for a trading pair over a timestamp range.
// The returned series is sorted by timestamp descending (most recent first).
type Client interface {
	GetCandles(ctx context.Context, pair string, fromTimestamp, toTimestamp int64, precision string) ([]Candle, error)
}

// Config carries the upstream connection settings for a backend.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// Factory builds a Client from its configuration.
type Factory func(cfg Config, logger *logrus.Logger) Client

var backends = map[string]Factory{}

// Register makes a backend constructor available under a configuration key.
// Called from the backend files' init functions.
func Register(name string, factory Factory) {
	backends[name] = factory
}

// New builds the backend selected by name. The choice is made once at startup
// from configuration; every call site then works against the Client interface.
func New(name string, cfg Config, logger *logrus.Logger) (Client, error) {
	factory, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown candle backend %q (registered: %v)", name, registered())
	}
	return factory(cfg, logger), nil
}

func registered() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
