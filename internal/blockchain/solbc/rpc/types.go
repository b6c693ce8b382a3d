// internal/blockchain/solbc/rpc/types.go
package rpc

import (
	"sync"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout = 10 * time.Second
	MaxRetries     = 3
	RetryDelay     = 500 * time.Millisecond
	// NodeCooldown is how long a failing node stays out of rotation.
	NodeCooldown = 15 * time.Second
)

// NodeClient представляет отдельный RPC узел
type NodeClient struct {
	Client *rpc.Client
	URL    string

	mutex         sync.RWMutex
	inactiveUntil time.Time
	metrics       *metrics
}

// metrics содержит метрики производительности RPC узла
type metrics struct {
	successCount uint64
	errorCount   uint64
	latency      time.Duration
	mutex        sync.RWMutex
}

// Stats is a read-only snapshot of a node's metrics.
type Stats struct {
	URL        string
	Active     bool
	Successes  uint64
	Errors     uint64
	AvgLatency time.Duration
}

// PoolConfig configures the node pool.
type PoolConfig struct {
	// RateLimit is the number of requests per second shared by every caller; 0 disables it.
	RateLimit float64
	Burst     int
	Timeout   time.Duration
	// MaxTries bounds attempts per call across nodes.
	MaxTries   uint
	RetryDelay time.Duration
	Cooldown   time.Duration
}

// Pool представляет пул RPC клиентов
type Pool struct {
	clients []*NodeClient
	limiter *rate.Limiter
	cfg     PoolConfig
	logger  *zap.Logger

	mutex     sync.Mutex
	currIndex int
}
