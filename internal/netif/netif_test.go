package netif

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedSource returns one snapshot per call and repeats the last one.
type scriptedSource struct {
	mu        sync.Mutex
	snapshots [][]Iface
	errs      []error
	calls     int
}

func (s *scriptedSource) Interfaces() ([]Iface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.snapshots) {
		i = len(s.snapshots) - 1
	}
	return s.snapshots[i], nil
}

func ipAddr(cidr string) net.Addr {
	ip, ipnet, _ := net.ParseCIDR(cidr)
	ipnet.IP = ip
	return ipnet
}

var (
	loopback = Iface{Name: "lo", Flags: net.FlagUp | net.FlagLoopback, Addrs: []net.Addr{ipAddr("127.0.0.1/8")}}
	wlanDown = Iface{Name: "wlan0", HardwareAddr: net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}}
	wlanNoIP = Iface{Name: "wlan0", Flags: net.FlagUp, HardwareAddr: wlanDown.HardwareAddr}
	wlanUp   = Iface{Name: "wlan0", Flags: net.FlagUp, HardwareAddr: wlanDown.HardwareAddr, Addrs: []net.Addr{ipAddr("192.168.1.42/24")}}
	ethUp    = Iface{Name: "eth0", Flags: net.FlagUp, Addrs: []net.Addr{ipAddr("10.0.0.2/8")}}
)

func TestWaitUpNamedInterface(t *testing.T) {
	src := &scriptedSource{snapshots: [][]Iface{
		{loopback, wlanDown},
		{loopback, wlanNoIP},
		{loopback, ethUp, wlanUp},
	}}
	w := NewWatcherWithSource(src, time.Millisecond, zap.NewNop())

	info, err := w.WaitUp(context.Background(), "wlan0")
	require.NoError(t, err)

	assert.Equal(t, "wlan0", info.Name)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", info.HardwareAddr)
	assert.Equal(t, []string{"192.168.1.42/24"}, info.Addrs)
	assert.Equal(t, 3, src.calls)
}

func TestWaitUpAnyInterfaceSkipsLoopback(t *testing.T) {
	src := &scriptedSource{snapshots: [][]Iface{
		{loopback},
		{loopback, ethUp},
	}}
	w := NewWatcherWithSource(src, time.Millisecond, zap.NewNop())

	info, err := w.WaitUp(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "eth0", info.Name)
}

func TestWaitUpNamedLoopback(t *testing.T) {
	src := &scriptedSource{snapshots: [][]Iface{{loopback}}}
	w := NewWatcherWithSource(src, time.Millisecond, zap.NewNop())

	info, err := w.WaitUp(context.Background(), "lo")
	require.NoError(t, err)
	assert.Equal(t, "lo", info.Name)
}

func TestWaitUpTimesOut(t *testing.T) {
	src := &scriptedSource{snapshots: [][]Iface{{loopback, wlanDown}}}
	w := NewWatcherWithSource(src, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := w.WaitUp(ctx, "wlan0")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLinkDown)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "wlan0")
}

func TestWaitUpMissingInterfaceKeepsPolling(t *testing.T) {
	src := &scriptedSource{snapshots: [][]Iface{
		{loopback},
		{loopback},
		{loopback, wlanUp},
	}}
	w := NewWatcherWithSource(src, time.Millisecond, zap.NewNop())

	info, err := w.WaitUp(context.Background(), "wlan0")
	require.NoError(t, err)
	assert.Equal(t, "wlan0", info.Name)
}

func TestWaitUpSurvivesListErrors(t *testing.T) {
	src := &scriptedSource{
		snapshots: [][]Iface{nil, {wlanUp}},
		errs:      []error{errors.New("netlink busy")},
	}
	w := NewWatcherWithSource(src, time.Millisecond, zap.NewNop())

	info, err := w.WaitUp(context.Background(), "wlan0")
	require.NoError(t, err)
	assert.Equal(t, "wlan0", info.Name)
}

func TestNewWatcherWithSourceDefaultsPollInterval(t *testing.T) {
	w := NewWatcherWithSource(&scriptedSource{}, 0, zap.NewNop())
	assert.Equal(t, DefaultPollInterval, w.pollInterval)
}

func TestHostLoopbackIsUp(t *testing.T) {
	ifaces, err := hostSource{}.Interfaces()
	if err != nil {
		t.Skipf("cannot list interfaces: %v", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 && iface.Flags&net.FlagUp != 0 && len(iface.Addrs) > 0 {
			return
		}
	}
	t.Skip("no loopback interface with an address on this host")
}
