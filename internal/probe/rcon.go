// Package probe implements optional secondary readiness checks that
// supplement the controller's running flag with a protocol-level signal.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/gorcon/rcon"

	"github.com/craftywatch/hibernate/internal/models"
	"github.com/craftywatch/hibernate/pkg/logger"
)

const dialTimeout = 5 * time.Second

// RCON confirms a server is actually accepting commands rather than trusting
// the controller's running boolean alone, which can flip true before the
// game server has finished initializing.
type RCON struct{}

// Ready dials the server's RCON port and issues a "list" command. It returns
// true only on a successful authenticated round trip. A server with no RCON
// port/password configured is considered ready by definition — the caller
// should skip calling Ready entirely in that case; Enabled reports this.
func (RCON) Ready(ctx context.Context, desc models.Descriptor) (bool, error) {
	if !Enabled(desc) {
		return true, nil
	}

	addr := fmt.Sprintf("%s:%d", desc.BindAddr, desc.RCONPort)

	type dialResult struct {
		conn *rcon.Conn
		err  error
	}
	result := make(chan dialResult, 1)
	go func() {
		conn, err := rcon.Dial(addr, desc.RCONPassword, rcon.SetDialTimeout(dialTimeout))
		result <- dialResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case r := <-result:
		if r.err != nil {
			return false, fmt.Errorf("rcon dial %s: %w", addr, r.err)
		}
		defer r.conn.Close()

		if _, err := r.conn.Execute("list"); err != nil {
			return false, fmt.Errorf("rcon list %s: %w", addr, err)
		}
		logger.Debug("probe: rcon readiness confirmed", map[string]interface{}{"server": desc.Name})
		return true, nil
	}
}

// Enabled reports whether desc carries enough RCON configuration to probe.
func Enabled(desc models.Descriptor) bool {
	return desc.RCONPort != 0 && desc.RCONPassword != ""
}
