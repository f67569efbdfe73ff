package interposer

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/craftywatch/hibernate/internal/models"
	"github.com/craftywatch/hibernate/internal/wire"
	"github.com/craftywatch/hibernate/pkg/logger"
)

// repeatedPingWindow is the window within which a second ping from the same
// peer counts as "repeated" under the repeated wake policy.
const repeatedPingWindow = 5 * time.Second

// Bedrock owns a UDP port for one Bedrock-edition server, answering
// unconnected pings with an unconnected pong.
type Bedrock struct {
	desc       models.Descriptor
	wake       WakeFunc
	serverGUID int64
	wakeWindow time.Duration

	mu       sync.Mutex
	conn     net.PacketConn
	done     chan struct{}
	wg       sync.WaitGroup
	lastWake time.Time

	peersMu sync.Mutex
	peers   map[string]*rate.Limiter
}

// NewBedrock builds a Bedrock interposer for desc.
func NewBedrock(desc models.Descriptor, wake WakeFunc) *Bedrock {
	var guid int64
	if id, err := uuid.NewRandom(); err == nil {
		b := id[:]
		guid = int64(binary.BigEndian.Uint64(b[:8]))
	}
	return &Bedrock{
		desc:       desc,
		wake:       wake,
		serverGUID: guid,
		wakeWindow: 2 * time.Second,
		peers:      make(map[string]*rate.Limiter),
	}
}

// Acquire binds the UDP socket and starts the receive loop.
func (b *Bedrock) Acquire(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return nil
	}

	lc := reuseAddrListenConfig()
	conn, err := lc.ListenPacket(ctx, "udp", b.desc.Addr())
	if err != nil {
		return err
	}

	b.conn = conn
	b.done = make(chan struct{})
	b.wg.Add(1)
	go b.recvLoop(conn, b.done)

	logger.Info("interposer: bedrock listening", map[string]interface{}{
		"server": b.desc.Name,
		"addr":   b.desc.Addr(),
	})
	return nil
}

// Addr returns the bound socket address, or nil if not acquired.
func (b *Bedrock) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	return b.conn.LocalAddr()
}

// Release stops the receive loop and closes the socket.
func (b *Bedrock) Release() error {
	b.mu.Lock()
	conn := b.conn
	done := b.done
	b.conn = nil
	b.done = nil
	b.mu.Unlock()

	if conn == nil {
		return nil
	}
	close(done)
	err := conn.Close()

	drained := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainBudget):
	}

	logger.Info("interposer: bedrock released", map[string]interface{}{
		"server": b.desc.Name,
		"addr":   b.desc.Addr(),
	})
	return err
}

func (b *Bedrock) recvLoop(conn net.PacketConn, done chan struct{}) {
	defer b.wg.Done()
	buf := make([]byte, 1500)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-done:
				return
			default:
				return
			}
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		b.handleDatagram(conn, addr, datagram)
	}
}

func (b *Bedrock) handleDatagram(conn net.PacketConn, addr net.Addr, datagram []byte) {
	ping, err := wire.ParseUnconnectedPing(datagram)
	if err != nil {
		return
	}

	pong := wire.BuildUnconnectedPong(ping.Time, wire.PongInfo{
		MOTDLine1:   b.desc.MOTD,
		MOTDLine2:   b.desc.VersionName,
		Protocol:    b.desc.ProtocolVersion,
		VersionName: b.desc.VersionName,
		MaxPlayers:  b.desc.MaxPlayers,
		ServerGUID:  b.serverGUID,
		PortV4:      b.desc.Port,
		PortV6:      b.desc.Port,
	})
	conn.WriteTo(pong, addr)

	b.considerWake(addr)
}

// considerWake applies the per-server wake_on_ping policy (spec.md §4.4).
func (b *Bedrock) considerWake(addr net.Addr) {
	switch b.desc.WakeOnPing {
	case models.WakeOnPingNever:
		return
	case models.WakeOnPingAlways:
		b.triggerWake()
	case models.WakeOnPingRepeated, "":
		if b.isRepeatedPing(addr) {
			b.triggerWake()
		}
	}
}

// isRepeatedPing uses a token-bucket limiter per peer, burst 1 replenished
// every repeatedPingWindow: a second ping before the bucket refills is a
// repeated ping.
func (b *Bedrock) isRepeatedPing(addr net.Addr) bool {
	key := addr.String()

	b.peersMu.Lock()
	lim, ok := b.peers[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(repeatedPingWindow), 1)
		lim.Allow() // consume the initial burst token on the first ping
		b.peers[key] = lim
		b.peersMu.Unlock()
		return false
	}
	b.peersMu.Unlock()

	return !lim.Allow()
}

func (b *Bedrock) triggerWake() {
	b.mu.Lock()
	now := time.Now()
	fire := now.Sub(b.lastWake) >= b.wakeWindow
	if fire {
		b.lastWake = now
	}
	b.mu.Unlock()

	if fire && b.wake != nil {
		b.wake(b.desc.Name)
	}
}
