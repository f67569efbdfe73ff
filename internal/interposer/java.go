// Package interposer owns a managed server's public port while the server
// itself is stopped, answering just enough of the Minecraft wire protocol to
// satisfy a server-list ping and a login attempt. It never forwards bytes to
// a real server — see spec.md §1's non-goals.
package interposer

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/craftywatch/hibernate/internal/models"
	"github.com/craftywatch/hibernate/internal/wire"
	"github.com/craftywatch/hibernate/pkg/logger"
)

// connDeadline bounds how long a single connection's handshake/status/login
// exchange may take before the interposer closes it silently.
const connDeadline = 5 * time.Second

// drainBudget is how long Release waits for in-flight handlers to finish on
// their own before force-closing them, per spec.md §5.
const drainBudget = 2 * time.Second

// WakeFunc is called, at most once per coalescing window, when a real
// player attempts to connect while the managed server is stopped.
type WakeFunc func(serverName string)

// Java owns a TCP listening port for one Java-edition server.
type Java struct {
	desc models.Descriptor
	wake WakeFunc

	wakeWindow time.Duration

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
	wg       sync.WaitGroup
	lastWake time.Time

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// NewJava builds a Java interposer for desc. wake is invoked with desc.Name
// whenever a login attempt is coalesced into a wake event.
func NewJava(desc models.Descriptor, wake WakeFunc) *Java {
	return &Java{
		desc:       desc,
		wake:       wake,
		wakeWindow: 2 * time.Second,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Acquire binds and starts accepting connections. Acquiring an already
// acquired interposer is a no-op.
func (j *Java) Acquire(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.listener != nil {
		return nil
	}

	lc := reuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", j.desc.Addr())
	if err != nil {
		return err
	}

	j.listener = ln
	j.done = make(chan struct{})
	j.wg.Add(1)
	go j.acceptLoop(ln, j.done)

	logger.Info("interposer: java listening", map[string]interface{}{
		"server": j.desc.Name,
		"addr":   j.desc.Addr(),
	})
	return nil
}

// Addr returns the bound listener address, or nil if not acquired.
func (j *Java) Addr() net.Addr {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.listener == nil {
		return nil
	}
	return j.listener.Addr()
}

// Release stops accepting, closes the listener, and waits up to drainBudget
// for in-flight handlers before force-closing them.
func (j *Java) Release() error {
	j.mu.Lock()
	ln := j.listener
	done := j.done
	j.listener = nil
	j.done = nil
	j.mu.Unlock()

	if ln == nil {
		return nil
	}
	close(done)
	err := ln.Close()

	drained := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(drainBudget):
		j.forceCloseAll()
		<-drained
	}

	logger.Info("interposer: java released", map[string]interface{}{
		"server": j.desc.Name,
		"addr":   j.desc.Addr(),
	})
	return err
}

func (j *Java) forceCloseAll() {
	j.connsMu.Lock()
	defer j.connsMu.Unlock()
	for c := range j.conns {
		c.Close()
	}
}

func (j *Java) track(c net.Conn) {
	j.connsMu.Lock()
	j.conns[c] = struct{}{}
	j.connsMu.Unlock()
}

func (j *Java) untrack(c net.Conn) {
	j.connsMu.Lock()
	delete(j.conns, c)
	j.connsMu.Unlock()
}

func (j *Java) acceptLoop(ln net.Listener, done chan struct{}) {
	defer j.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-done:
				return
			default:
				return
			}
		}
		j.track(conn)
		j.wg.Add(1)
		go j.handleConn(conn)
	}
}

func (j *Java) handleConn(conn net.Conn) {
	defer j.wg.Done()
	defer j.untrack(conn)
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(connDeadline))
	r := bufio.NewReader(conn)

	id, payload, err := wire.ReadPacket(r)
	if err != nil || id != 0x00 {
		return
	}
	hs, err := wire.ParseHandshake(payload)
	if err != nil {
		return
	}

	switch hs.NextState {
	case wire.NextStateStatus:
		j.handleStatus(conn, r)
	case wire.NextStateLogin:
		j.handleLogin(conn, r)
	}
}

func (j *Java) handleStatus(conn net.Conn, r *bufio.Reader) {
	id, _, err := wire.ReadPacket(r)
	if err != nil || id != 0x00 {
		return
	}

	resp := wire.BuildStatusResponse(j.desc.MOTD, j.desc.VersionName, j.desc.ProtocolVersion, j.desc.MaxPlayers, j.desc.MOTDIcon)
	if _, err := conn.Write(resp); err != nil {
		return
	}

	conn.SetDeadline(time.Now().Add(connDeadline))
	id, payload, err := wire.ReadPacket(r)
	if err != nil || id != 0x01 {
		return
	}
	pingBody := make([]byte, payload.Buffered())
	if _, err := payload.Read(pingBody); err != nil {
		return
	}
	conn.Write(wire.BuildPong(pingBody))
}

func (j *Java) handleLogin(conn net.Conn, r *bufio.Reader) {
	id, payload, err := wire.ReadPacket(r)
	if err != nil || id != 0x00 {
		return
	}
	if _, err := wire.ParseLoginStart(payload); err != nil {
		return
	}

	conn.Write(wire.BuildDisconnect(j.desc.StartingKickMsg))
	conn.Close()
	j.triggerWake()
}

// triggerWake coalesces repeated login attempts within wakeWindow into a
// single wake event per spec.md §4.3.
func (j *Java) triggerWake() {
	j.mu.Lock()
	now := time.Now()
	fire := now.Sub(j.lastWake) >= j.wakeWindow
	if fire {
		j.lastWake = now
	}
	j.mu.Unlock()

	if fire && j.wake != nil {
		j.wake(j.desc.Name)
	}
}
