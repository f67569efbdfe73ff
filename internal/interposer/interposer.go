package interposer

import (
	"context"
	"fmt"
	"net"

	"github.com/craftywatch/hibernate/internal/models"
)

// Interposer is the port-ownership lifecycle the monitor drives: acquire
// binds and starts answering the wire protocol, release gives the port back
// so the real server can bind it.
type Interposer interface {
	Acquire(ctx context.Context) error
	Release() error
	Addr() net.Addr
}

// New builds the Interposer matching desc.Kind.
func New(desc models.Descriptor, wake WakeFunc) (Interposer, error) {
	switch desc.Kind {
	case models.KindJava:
		return NewJava(desc, wake), nil
	case models.KindBedrock:
		return NewBedrock(desc, wake), nil
	default:
		return nil, fmt.Errorf("interposer: unknown server kind %q", desc.Kind)
	}
}
