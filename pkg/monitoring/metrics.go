package monitoring

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects and tracks node-level operational counters.
type Metrics struct {
	mu sync.RWMutex

	// Ledger metrics
	blocksInserted    uint64
	blockInsertTime   time.Duration
	lastBlockTime     time.Time
	forksResolved     uint64
	lastForkRound     uint64

	// Mining metrics
	txMined     uint64
	miningTime  time.Duration

	// Peer metrics
	peerCount int32

	// Network metrics
	packetsReceived uint64
	packetsSent     uint64

	// Future-block buffer
	futureBufferSize int32

	// Performance metrics
	avgBlockInsertTime time.Duration
	avgMiningTime      time.Duration
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		lastBlockTime: time.Now(),
	}
}

// Ledger Metrics

// RecordBlockInserted records a block accepted into the ledger.
func (m *Metrics) RecordBlockInserted(insertTime time.Duration) {
	atomic.AddUint64(&m.blocksInserted, 1)

	m.mu.Lock()
	m.blockInsertTime += insertTime
	m.lastBlockTime = time.Now()
	if m.blocksInserted > 0 {
		m.avgBlockInsertTime = m.blockInsertTime / time.Duration(m.blocksInserted)
	}
	m.mu.Unlock()
}

// GetBlocksInserted returns total blocks accepted into the ledger.
func (m *Metrics) GetBlocksInserted() uint64 {
	return atomic.LoadUint64(&m.blocksInserted)
}

// GetAvgBlockInsertTime returns average ledger insertion time.
func (m *Metrics) GetAvgBlockInsertTime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.avgBlockInsertTime
}

// RecordFork records a fork handled at the given round.
func (m *Metrics) RecordFork(round uint64) {
	atomic.AddUint64(&m.forksResolved, 1)
	m.mu.Lock()
	m.lastForkRound = round
	m.mu.Unlock()
}

// GetForksResolved returns total forks handled locally (received or
// re-broadcast).
func (m *Metrics) GetForksResolved() uint64 {
	return atomic.LoadUint64(&m.forksResolved)
}

// GetLastForkRound returns the round of the most recent fork.
func (m *Metrics) GetLastForkRound() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastForkRound
}

// Mining Metrics

// RecordTxMined records a transaction's proof-of-work completion.
func (m *Metrics) RecordTxMined(miningTime time.Duration) {
	atomic.AddUint64(&m.txMined, 1)

	m.mu.Lock()
	m.miningTime += miningTime
	if m.txMined > 0 {
		m.avgMiningTime = m.miningTime / time.Duration(m.txMined)
	}
	m.mu.Unlock()
}

// GetTxMined returns total transactions mined.
func (m *Metrics) GetTxMined() uint64 {
	return atomic.LoadUint64(&m.txMined)
}

// GetAvgMiningTime returns average time to solve a block.
func (m *Metrics) GetAvgMiningTime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.avgMiningTime
}

// Peer Metrics

// SetPeerCount sets the current peer count.
func (m *Metrics) SetPeerCount(count int) {
	atomic.StoreInt32(&m.peerCount, int32(count))
}

// GetPeerCount returns current peer count.
func (m *Metrics) GetPeerCount() int {
	return int(atomic.LoadInt32(&m.peerCount))
}

// Network Metrics

// RecordPacketReceived records an inbound packet.
func (m *Metrics) RecordPacketReceived() {
	atomic.AddUint64(&m.packetsReceived, 1)
}

// RecordPacketSent records an outbound packet.
func (m *Metrics) RecordPacketSent() {
	atomic.AddUint64(&m.packetsSent, 1)
}

// GetPacketsReceived returns total packets received.
func (m *Metrics) GetPacketsReceived() uint64 {
	return atomic.LoadUint64(&m.packetsReceived)
}

// GetPacketsSent returns total packets sent.
func (m *Metrics) GetPacketsSent() uint64 {
	return atomic.LoadUint64(&m.packetsSent)
}

// Future-block buffer

// SetFutureBufferSize records the current size of the future-round buffer.
func (m *Metrics) SetFutureBufferSize(size int) {
	atomic.StoreInt32(&m.futureBufferSize, int32(size))
}

// GetFutureBufferSize returns the current size of the future-round buffer.
func (m *Metrics) GetFutureBufferSize() int {
	return int(atomic.LoadInt32(&m.futureBufferSize))
}

// Summary returns a metrics summary.
func (m *Metrics) Summary() map[string]interface{} {
	return map[string]interface{}{
		"blocks_inserted":       m.GetBlocksInserted(),
		"avg_block_insert_ms":   m.GetAvgBlockInsertTime().Milliseconds(),
		"tx_mined":              m.GetTxMined(),
		"avg_mining_time_ms":    m.GetAvgMiningTime().Milliseconds(),
		"peer_count":            m.GetPeerCount(),
		"packets_received":      m.GetPacketsReceived(),
		"packets_sent":          m.GetPacketsSent(),
		"future_buffer_size":    m.GetFutureBufferSize(),
		"forks_resolved":        m.GetForksResolved(),
		"last_fork_round":       m.GetLastForkRound(),
	}
}

// Global metrics instance
var globalMetrics = NewMetrics()

// GetGlobalMetrics returns the global metrics instance.
func GetGlobalMetrics() *Metrics {
	return globalMetrics
}
