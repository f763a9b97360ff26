package substrate

import (
	"math/rand"
	"net"
	"sync"
	"time"
)

// memAddr is a trivial net.Addr for the in-memory PacketConn pair below.
type memAddr string

func (a memAddr) Network() string { return "memory" }
func (a memAddr) String() string  { return string(a) }

type datagram struct {
	data []byte
	from net.Addr
}

// LossyPair returns two PacketConns wired directly to each other, useful
// for property tests that need deterministic control over datagram loss,
// reordering and duplication (spec.md §8's boundary and end-to-end
// scenarios) without opening a real socket. Modeled after the role
// telepresence's own test doubles play for its tunnel/vif layers.
func LossyPair(opts LossOptions) (a, b PacketConn) {
	aAddr, bAddr := memAddr("a"), memAddr("b")
	aIn := make(chan datagram, 4096)
	bIn := make(chan datagram, 4096)
	rng := rand.New(rand.NewSource(opts.Seed))
	var mu sync.Mutex

	pa := &lossyConn{self: aAddr, peer: bAddr, in: aIn, out: bIn, opts: &opts, rng: rng, mu: &mu}
	pb := &lossyConn{self: bAddr, peer: aAddr, in: bIn, out: aIn, opts: &opts, rng: rng, mu: &mu}
	return pa, pb
}

// LossOptions parameterizes LossyPair's simulated network impairments.
type LossOptions struct {
	Seed         int64
	DropFraction float64 // 0..1
	DuplicateFraction float64
	MaxReorderDelay time.Duration
}

type lossyConn struct {
	self, peer net.Addr
	in, out    chan datagram
	opts       *LossOptions
	rng        *rand.Rand
	mu         *sync.Mutex
	closed     bool
	deadline   time.Time
}

func (c *lossyConn) ReadFrom(buf []byte) (int, net.Addr, error) {
	var timer *time.Timer
	var timeoutCh <-chan time.Time
	c.mu.Lock()
	dl := c.deadline
	c.mu.Unlock()
	if !dl.IsZero() {
		d := time.Until(dl)
		if d <= 0 {
			return 0, nil, timeoutError{}
		}
		timer = time.NewTimer(d)
		timeoutCh = timer.C
		defer timer.Stop()
	}
	select {
	case dg, ok := <-c.in:
		if !ok {
			return 0, nil, errClosed
		}
		n := copy(buf, dg.data)
		return n, dg.from, nil
	case <-timeoutCh:
		return 0, nil, timeoutError{}
	}
}

func (c *lossyConn) WriteTo(buf []byte, _ net.Addr) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, errClosed
	}
	drop := c.opts.DropFraction > 0 && c.rng.Float64() < c.opts.DropFraction
	duplicate := !drop && c.opts.DuplicateFraction > 0 && c.rng.Float64() < c.opts.DuplicateFraction
	delay := time.Duration(0)
	if c.opts.MaxReorderDelay > 0 {
		delay = time.Duration(c.rng.Int63n(int64(c.opts.MaxReorderDelay)))
	}
	dupDelay := time.Duration(0)
	if duplicate && c.opts.MaxReorderDelay > 0 {
		dupDelay = time.Duration(c.rng.Int63n(int64(c.opts.MaxReorderDelay)))
	}
	c.mu.Unlock()

	if drop {
		return len(buf), nil
	}

	cp := make([]byte, len(buf))
	copy(cp, buf)

	send := func(d time.Duration) {
		dg := datagram{data: cp, from: c.self}
		if d == 0 {
			select {
			case c.out <- dg:
			default:
			}
			return
		}
		time.AfterFunc(d, func() {
			select {
			case c.out <- dg:
			default:
			}
		})
	}

	send(delay)
	if duplicate {
		send(dupDelay)
	}
	return len(buf), nil
}

func (c *lossyConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *lossyConn) LocalAddr() net.Addr { return c.self }

func (c *lossyConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "substrate: read timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var errClosed = closedError{}

type closedError struct{}

func (closedError) Error() string { return "substrate: connection closed" }
