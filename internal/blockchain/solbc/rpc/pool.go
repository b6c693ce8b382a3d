// internal/blockchain/solbc/rpc/pool.go
package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultPoolConfig: 10 req/s, 3 attempts, 10s per request.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		RateLimit:  10,
		Burst:      5,
		Timeout:    DefaultTimeout,
		MaxTries:   MaxRetries,
		RetryDelay: RetryDelay,
		Cooldown:   NodeCooldown,
	}
}

// NewPool создает новый пул клиентов. Пустой список URL недопустим.
func NewPool(urls []string, cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, ErrNoActiveClients
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = MaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = RetryDelay
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = NodeCooldown
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	clients := make([]*NodeClient, len(urls))
	for i, url := range urls {
		clients[i] = NewNode(url)
	}

	return &Pool{
		clients: clients,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.Named("rpc-pool"),
	}, nil
}

// Next возвращает следующий активный клиент из пула. Если все узлы на паузе,
// возвращается очередной по кругу, чтобы запрос всё равно ушёл.
func (p *Pool) Next() *NodeClient {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := time.Now()
	for i := 0; i < len(p.clients); i++ {
		idx := (p.currIndex + i) % len(p.clients)
		if p.clients[idx].IsActive(now) {
			p.currIndex = (idx + 1) % len(p.clients)
			return p.clients[idx]
		}
	}

	c := p.clients[p.currIndex]
	p.currIndex = (p.currIndex + 1) % len(p.clients)
	return c
}

// Stats returns per-node metrics in configuration order.
func (p *Pool) Stats() []Stats {
	out := make([]Stats, len(p.clients))
	for i, c := range p.clients {
		out[i] = c.Stats()
	}
	return out
}

// Primary returns the first configured node, used where a single client is required.
func (p *Pool) Primary() *solanarpc.Client {
	return p.clients[0].Client
}

// Do runs op against the pool: it waits for the shared limiter, picks the next
// node and retries retryable failures on another node. Other errors are returned
// on the first attempt.
func (p *Pool) Do(ctx context.Context, method string, op func(ctx context.Context, c *solanarpc.Client) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := p.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		node := p.Next()
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()

		start := time.Now()
		err := op(callCtx, node.Client)
		node.UpdateMetrics(err == nil, time.Since(start))
		if err == nil {
			return struct{}{}, nil
		}

		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		wrapped := NewError(err, node.URL, method)
		if !IsRetryableError(wrapped) {
			return struct{}{}, backoff.Permanent(wrapped)
		}
		if errors.Is(wrapped, ErrRateLimit) || errors.Is(wrapped, ErrConnectionFailed) {
			node.Suspend(time.Now(), p.cfg.Cooldown)
		}
		return struct{}{}, wrapped
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.cfg.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Debug("RPC request failed, trying next node",
				zap.String("method", method),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	return err
}
