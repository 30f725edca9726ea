// Package ports assigns free TCP ports from a configured range. A port is
// only handed out when the database holds no live record for it AND nothing
// on the host is listening on it; database state can lag actual container
// state after a crash, so both checks are required.
package ports

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	appErr "github.com/storegrid/engine/pkg/errors"
	"github.com/storegrid/engine/pkg/logger"
	"go.uber.org/zap"
)

// Ledger answers whether a port is recorded against a live stack.
type Ledger interface {
	InUse(ctx context.Context, port int) (bool, error)
}

// Prober reports whether something is listening on localhost:port.
type Prober func(port int) bool

type Allocator struct {
	ledger Ledger
	probe  Prober
}

func NewAllocator(ledger Ledger) *Allocator {
	return &Allocator{ledger: ledger, probe: Listening}
}

// NewAllocatorWithProber lets tests substitute the OS socket probe.
func NewAllocatorWithProber(ledger Ledger, probe Prober) *Allocator {
	return &Allocator{ledger: ledger, probe: probe}
}

// Listening dials localhost:port; a successful connect means the port is
// taken, a refused connect means it is free.
func Listening(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 500*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Allocate scans [start, end] and returns the first port that passes both
// the ledger check and the socket probe.
func (a *Allocator) Allocate(ctx context.Context, start, end int) (int, error) {
	for port := start; port <= end; port++ {
		inUse, err := a.ledger.InUse(ctx, port)
		if err != nil {
			return 0, err
		}
		if inUse {
			continue
		}
		if a.probe(port) {
			logger.L().Debug("port busy on host despite free ledger", zap.Int("port", port))
			continue
		}
		return port, nil
	}
	return 0, appErr.New(appErr.CodeAllocationExhausted,
		fmt.Sprintf("no free port in range %d-%d", start, end))
}

// Revalidate re-runs the socket probe on a previously allocated port just
// before the descriptor that embeds it is finalized. If the port was taken
// in the meantime it allocates a replacement from the same range; the
// second return value reports whether the port changed.
func (a *Allocator) Revalidate(ctx context.Context, port, start, end int) (int, bool, error) {
	if !a.probe(port) {
		return port, false, nil
	}
	logger.L().Warn("allocated port taken before container start, reallocating", zap.Int("port", port))
	fresh, err := a.Allocate(ctx, start, end)
	if err != nil {
		return 0, false, err
	}
	return fresh, true, nil
}
