// Package mining implements the node's single long-lived proof-of-work
// worker: given a transaction plus chain context it produces a block whose
// mining hash falls below the difficulty target.
package mining

import (
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pouria-shahmiri/greychain/pkg/mhash"
	"github.com/pouria-shahmiri/greychain/pkg/monitoring"
	"github.com/pouria-shahmiri/greychain/pkg/types"
)

// Difficulty is the inclusive upper bound a valid mining hash must lie
// below: u64::MAX >> 24, expected attempts ~= 2^24.
const Difficulty = math.MaxUint64 >> 24

// idlePoll is how often the worker checks for new requests or a shutdown
// signal when its request channel is empty.
const idlePoll = 2 * time.Millisecond

// Miner owns one worker goroutine and the FIFO of blocks awaiting a
// solution. Enqueue is at-most-one-in-queue per transaction id: a
// duplicate enqueue for a tx already queued is silently dropped.
type Miner struct {
	reqCh  chan uint64 // nonce requests to the worker
	resCh  chan uint64 // solutions from the worker
	result chan types.Block

	mu         sync.Mutex
	queue      []types.Block
	queuedTxID map[uint64]bool

	online atomic.Bool
	done   chan struct{}
}

// New starts the miner's worker and collector goroutines.
func New() *Miner {
	m := &Miner{
		reqCh:      make(chan uint64, 4096),
		resCh:      make(chan uint64, 4096),
		result:     make(chan types.Block, 4096),
		queuedTxID: make(map[uint64]bool),
		done:       make(chan struct{}),
	}
	m.online.Store(true)
	go m.work()
	go m.collect()
	return m
}

// Enqueue submits a transaction to be mined into a block at round, linked
// to prevHash. Duplicate tx ids already in the queue are dropped.
func (m *Miner) Enqueue(tx types.Transaction, prevHash uint64, round uint64) {
	m.mu.Lock()
	if m.queuedTxID[tx.ID] {
		m.mu.Unlock()
		return
	}
	m.queuedTxID[tx.ID] = true
	b := types.NewUnsolvedBlock(tx, prevHash, round, nowMicros())
	m.queue = append(m.queue, b)
	m.mu.Unlock()

	m.reqCh <- b.Nonce
}

// Completed returns the channel of mined blocks, delivered in FIFO order
// relative to the order transactions were enqueued.
func (m *Miner) Completed() <-chan types.Block {
	return m.result
}

// IsIdling reports whether the miner has no pending work -- part of the
// node-wide idle condition.
func (m *Miner) IsIdling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue) == 0
}

// Shutdown flips the online flag. The worker finishes whatever puzzle it
// is currently solving -- mid-puzzle cancellation is not supported -- then
// exits; Shutdown blocks until both goroutines have stopped.
func (m *Miner) Shutdown() {
	m.online.Store(false)
	<-m.done
}

func (m *Miner) work() {
	for {
		if !m.online.Load() {
			close(m.resCh)
			return
		}
		select {
		case nonce := <-m.reqCh:
			solution := mine(nonce)
			m.resCh <- solution
		default:
			time.Sleep(idlePoll)
		}
	}
}

func (m *Miner) collect() {
	defer close(m.done)
	defer close(m.result)

	for solution := range m.resCh {
		m.mu.Lock()
		b := m.queue[0]
		m.queue = m.queue[1:]
		delete(m.queuedTxID, b.Tx.ID)
		m.mu.Unlock()

		b = b.Complete(solution)
		monitoring.Infof("mined block for tx id %d at round %d (mining hash %d)", b.Tx.ID, b.Round, b.MiningHash())
		m.result <- b
	}
}

// mine samples solutions until the mining hash falls under Difficulty.
func mine(nonce uint64) uint64 {
	solution := rand.Uint64()
	for !verify(nonce, solution) {
		solution = rand.Uint64()
	}
	return solution
}

func verify(nonce, solution uint64) bool {
	return mhash.New().WriteUint64(nonce).WriteUint64(solution).Sum64() < Difficulty
}

func nowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}
