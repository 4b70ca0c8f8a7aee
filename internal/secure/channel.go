package secure

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/roah-benchmarks/refboxcore/internal/clock"
	"github.com/roah-benchmarks/refboxcore/internal/types"
)

// defaultBeaconRate matches the robot's fixed ~5 Hz beacon cadence with
// headroom; it exists to bound damage from a misbehaving or replayed
// sender, not to throttle legitimate traffic (grounded on the teacher's
// SyncRateLimiter, generalized from per-peer-ID to per-remote-address).
const (
	defaultBeaconRate  = 20
	defaultBeaconBurst = 40

	transmitInterval = 200 * time.Millisecond
	staleBeaconAfter = 5 * time.Second
)

// Callbacks is the set of inbound hooks a Channel's owner supplies.
type Callbacks struct {
	// OnRobotState fires once per inbound RobotStateFrame, after the
	// channel has updated its own liveness bookkeeping.
	OnRobotState func(types.RobotStateFrame)
	// OnRogueBenchmarkState fires if a BenchmarkStateFrame — a frame only
	// this executor should ever transmit — arrives from the wire,
	// indicating a second transmitter on the channel.
	OnRogueBenchmarkState func()
	// OnRateLimited fires when an inbound datagram is dropped by the rate
	// limiter, for protocol-error-remote logging.
	OnRateLimited func(addr net.Addr)
	// OnDecodeError fires when a decrypted frame fails to parse or
	// authenticate.
	OnDecodeError func(err error)
}

// Channel is the Secure Channel component (C2): one UDP endpoint, one
// symmetric cipher, a 200ms retransmit loop, and liveness bookkeeping for
// the single robot it talks to.
type Channel struct {
	clk    clock.Clock
	cipher Cipher
	conn   *net.UDPConn
	remote *net.UDPAddr
	cb     Callbacks

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	mu         sync.Mutex
	lastBeacon time.Time
	lastSkew   time.Duration

	sendCh chan []byte
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Dial binds a UDP socket on localAddr (typically ":0" joined with an
// allocated port from the shared monotonic pool) and targets remoteAddr
// (the robot's broadcast/unicast address, default 10.255.255.255:port).
// Bind failure is a resource-transient condition: the caller retries on
// the next allocated port.
func Dial(clk clock.Clock, c Cipher, localAddr, remoteAddr string, cb Callbacks) (*Channel, error) {
	local, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("secure: resolving local address: %w", err)
	}
	remote, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("secure: resolving remote address: %w", err)
	}
	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("secure: bind: %w", err)
	}

	ch := &Channel{
		clk:      clk,
		cipher:   c,
		conn:     conn,
		remote:   remote,
		cb:       cb,
		limiters: make(map[string]*rate.Limiter),
		sendCh:   make(chan []byte, 4), // buffered; drop-oldest-on-full, never blocks a handler
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch.cancel = cancel
	ch.wg.Add(2)
	go ch.readLoop(ctx)
	go ch.writeLoop(ctx)
	return ch, nil
}

// LocalAddr returns the UDP address this channel is bound to.
func (c *Channel) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// Close tears down the socket and stops both loops. Safe to call once.
func (c *Channel) Close() error {
	c.cancel()
	err := c.conn.Close()
	c.wg.Wait()
	return err
}

// Send encodes, seals and enqueues a BenchmarkStateFrame for transmission.
// Non-blocking: if the send queue is full, the oldest queued frame is
// dropped in favor of the newest, since only the latest state matters.
func (c *Channel) Send(f types.BenchmarkStateFrame) error {
	plaintext := EncodeBenchmarkState(f)
	sealed, err := c.cipher.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("secure: sealing outbound frame: %w", err)
	}
	select {
	case c.sendCh <- sealed:
	default:
		select {
		case <-c.sendCh:
		default:
		}
		select {
		case c.sendCh <- sealed:
		default:
		}
	}
	return nil
}

// LastBeacon and LastSkew report the channel's own bookkeeping — read
// directly from the channel's member state, never from a handler-local
// shadow (see the timeout/skew-warning logic in the simple executor,
// which depends on reading these rather than a stale local copy).
func (c *Channel) LastBeacon() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastBeacon
}

func (c *Channel) LastSkew() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSkew
}

// Stale reports whether no beacon has been observed for more than 5s.
func (c *Channel) Stale(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastBeacon.IsZero() {
		return false
	}
	return now.Sub(c.lastBeacon) > staleBeaconAfter
}

func (c *Channel) writeLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(transmitInterval)
	defer ticker.Stop()
	var last []byte
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.sendCh:
			last = frame
			c.conn.WriteToUDP(frame, c.remote)
		case <-ticker.C:
			if last != nil {
				c.conn.WriteToUDP(last, c.remote)
			}
		}
	}
}

func (c *Channel) readLoop(ctx context.Context) {
	defer c.wg.Done()
	buf := make([]byte, 65536)
	for {
		c.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := c.conn.ReadFromUDP(buf)
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err != nil {
			continue // read timeout, loop back to check ctx.Done
		}
		c.handleInbound(addr, append([]byte(nil), buf[:n]...))
	}
}

func (c *Channel) handleInbound(addr *net.UDPAddr, sealed []byte) {
	if !c.allow(addr) {
		if c.cb.OnRateLimited != nil {
			c.cb.OnRateLimited(addr)
		}
		return
	}

	plaintext, err := c.cipher.Open(sealed)
	if err != nil {
		if c.cb.OnDecodeError != nil {
			c.cb.OnDecodeError(err)
		}
		return
	}

	msgType, err := PeekMsgType(plaintext)
	if err != nil {
		if c.cb.OnDecodeError != nil {
			c.cb.OnDecodeError(err)
		}
		return
	}

	switch msgType {
	case MsgBenchmarkState:
		if c.cb.OnRogueBenchmarkState != nil {
			c.cb.OnRogueBenchmarkState()
		}
	case MsgRobotState:
		frame, err := DecodeRobotState(plaintext)
		if err != nil {
			if c.cb.OnDecodeError != nil {
				c.cb.OnDecodeError(err)
			}
			return
		}
		now := c.clk.Now()
		c.mu.Lock()
		c.lastBeacon = now
		c.lastSkew = frame.Time.Sub(now)
		c.mu.Unlock()
		if c.cb.OnRobotState != nil {
			c.cb.OnRobotState(frame)
		}
	}
}

func (c *Channel) allow(addr *net.UDPAddr) bool {
	key := addr.IP.String()
	c.limiterMu.Lock()
	l, ok := c.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(defaultBeaconRate), defaultBeaconBurst)
		c.limiters[key] = l
	}
	c.limiterMu.Unlock()
	return l.Allow()
}
