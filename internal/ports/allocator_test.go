package ports

import (
	"context"
	"net"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	appErr "github.com/storegrid/engine/pkg/errors"
	"github.com/storegrid/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	_, err := logger.Init("info", "json")
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

type fakeLedger struct {
	mu   sync.Mutex
	used map[int]bool
}

func (l *fakeLedger) InUse(ctx context.Context, port int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used[port], nil
}

func (l *fakeLedger) claim(port int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used == nil {
		l.used = map[int]bool{}
	}
	l.used[port] = true
}

func neverListening(int) bool { return false }

func TestAllocateSkipsLedgeredPorts(t *testing.T) {
	ledger := &fakeLedger{}
	ledger.claim(8001)
	ledger.claim(8002)
	a := NewAllocatorWithProber(ledger, neverListening)

	port, err := a.Allocate(context.Background(), 8001, 8010)
	require.NoError(t, err)
	require.Equal(t, 8003, port)
}

func TestAllocateSkipsLiveListeners(t *testing.T) {
	// The ledger says free, but the host disagrees.
	busy := map[int]bool{8001: true}
	a := NewAllocatorWithProber(&fakeLedger{}, func(p int) bool { return busy[p] })

	port, err := a.Allocate(context.Background(), 8001, 8010)
	require.NoError(t, err)
	require.Equal(t, 8002, port)
}

func TestAllocateExhausted(t *testing.T) {
	ledger := &fakeLedger{}
	for p := 8001; p <= 8003; p++ {
		ledger.claim(p)
	}
	a := NewAllocatorWithProber(ledger, neverListening)

	_, err := a.Allocate(context.Background(), 8001, 8003)
	require.Error(t, err)
	require.True(t, appErr.IsCode(err, appErr.CodeAllocationExhausted))
}

func TestAllocateConcurrentDistinct(t *testing.T) {
	// Each successful allocation is immediately recorded, as the repository
	// layer does; concurrent allocations must not collide.
	ledger := &fakeLedger{}
	a := NewAllocatorWithProber(ledger, neverListening)

	var mu sync.Mutex
	seen := map[int]int{}
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			mu.Lock()
			defer mu.Unlock()
			port, err := a.Allocate(context.Background(), 8001, 8100)
			if err != nil {
				return err
			}
			ledger.claim(port)
			seen[port]++
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, seen, 8)
	for port, n := range seen {
		require.Equal(t, 1, n, "port %d allocated twice", port)
	}
}

func TestRevalidateKeepsFreePort(t *testing.T) {
	a := NewAllocatorWithProber(&fakeLedger{}, neverListening)
	port, changed, err := a.Revalidate(context.Background(), 8005, 8001, 8010)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, 8005, port)
}

func TestRevalidateReplacesTakenPort(t *testing.T) {
	busy := map[int]bool{8005: true}
	a := NewAllocatorWithProber(&fakeLedger{}, func(p int) bool { return busy[p] })

	port, changed, err := a.Revalidate(context.Background(), 8005, 8001, 8010)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 8001, port)
}

func TestListeningDetectsRealSocket(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	require.True(t, Listening(port))
}
