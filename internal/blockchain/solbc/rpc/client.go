// internal/blockchain/solbc/rpc/client.go
package rpc

import (
	"sync/atomic"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// NewNode создает новый экземпляр NodeClient
func NewNode(url string) *NodeClient {
	return &NodeClient{
		Client:  solanarpc.New(url),
		URL:     url,
		metrics: &metrics{},
	}
}

// IsActive возвращает текущий статус активности узла
func (c *NodeClient) IsActive(now time.Time) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return !now.Before(c.inactiveUntil)
}

// Suspend выводит узел из ротации на d.
func (c *NodeClient) Suspend(now time.Time, d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.inactiveUntil = now.Add(d)
}

// UpdateMetrics обновляет метрики узла
func (c *NodeClient) UpdateMetrics(success bool, latency time.Duration) {
	c.metrics.mutex.Lock()
	defer c.metrics.mutex.Unlock()

	if success {
		atomic.AddUint64(&c.metrics.successCount, 1)
	} else {
		atomic.AddUint64(&c.metrics.errorCount, 1)
	}

	if c.metrics.latency == 0 {
		c.metrics.latency = latency
		return
	}
	c.metrics.latency = (c.metrics.latency + latency) / 2
}

// Stats возвращает снимок метрик узла
func (c *NodeClient) Stats() Stats {
	c.metrics.mutex.RLock()
	defer c.metrics.mutex.RUnlock()

	return Stats{
		URL:        c.URL,
		Active:     c.IsActive(time.Now()),
		Successes:  atomic.LoadUint64(&c.metrics.successCount),
		Errors:     atomic.LoadUint64(&c.metrics.errorCount),
		AvgLatency: c.metrics.latency,
	}
}
