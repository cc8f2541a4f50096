package artnet

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ameesme/chaser-v2/render"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readOne(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	buf := make([]byte, 1024)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestBuildArtDMXHeaderBytes(t *testing.T) {
	payload := []byte{1, 2, 3}
	pkt := buildArtDMX(5, payload)

	assert.Equal(t, "Art-Net\x00", string(pkt[0:8]))
	assert.Equal(t, byte(0x00), pkt[8], "opcode low byte")
	assert.Equal(t, byte(0x50), pkt[9], "opcode high byte")
	assert.Equal(t, byte(0x00), pkt[10], "protver high byte")
	assert.Equal(t, byte(14), pkt[11], "protver low byte")
	assert.Equal(t, byte(0), pkt[12], "sequence always 0")
	assert.Equal(t, byte(0), pkt[13], "physical port always 0")
	assert.Equal(t, byte(5), pkt[14], "universe low byte")
	assert.Equal(t, byte(0), pkt[15], "universe high byte")
	assert.Equal(t, byte(0), pkt[16], "length high byte")
	assert.Equal(t, byte(3), pkt[17], "length low byte")
	assert.Equal(t, payload, pkt[18:])
}

func TestPushSendsCachedFrameToTarget(t *testing.T) {
	listener := listenLoopback(t)
	addr := listener.LocalAddr().(*net.UDPAddr)

	m := NewManager(20)
	m.AddTarget(Target{ID: "t1", Host: addr.IP.String(), Port: addr.Port})

	pkt := &render.Packet{DMXByUniverse: map[int]*[render.UniverseSize]byte{0: {1: 9, 2: 8, 3: 7}}}
	m.Push(context.Background(), pkt)

	got := readOne(t, listener)
	require.True(t, len(got) >= 18)
	assert.Equal(t, byte(9), got[18+1])
	assert.Equal(t, byte(8), got[18+2])
	assert.Equal(t, byte(7), got[18+3])
}

func TestTargetUniverseAllowListFiltersPush(t *testing.T) {
	listener := listenLoopback(t)
	addr := listener.LocalAddr().(*net.UDPAddr)

	m := NewManager(20)
	m.AddTarget(Target{ID: "t1", Host: addr.IP.String(), Port: addr.Port, Universes: []int{2}})

	pkt := &render.Packet{DMXByUniverse: map[int]*[render.UniverseSize]byte{0: {}}}
	m.Push(context.Background(), pkt)

	require.NoError(t, listener.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	buf := make([]byte, 32)
	_, err := listener.Read(buf)
	assert.Error(t, err, "a universe outside the target's allow-list must not be sent")
}

func TestPushIgnoresNilPacket(t *testing.T) {
	m := NewManager(20)
	assert.NotPanics(t, func() {
		m.Push(context.Background(), nil)
	})
}

func TestRequestFlushAgainDeliversLatestDuringInFlightFlush(t *testing.T) {
	listener := listenLoopback(t)
	addr := listener.LocalAddr().(*net.UDPAddr)

	m := NewManager(20)
	m.AddTarget(Target{ID: "t1", Host: addr.IP.String(), Port: addr.Port})

	// Simulate an in-flight flush so the next Push takes the
	// "flush again" branch instead of starting its own goroutine.
	m.mu.Lock()
	m.flushing = true
	m.mu.Unlock()

	pkt := &render.Packet{DMXByUniverse: map[int]*[render.UniverseSize]byte{0: {1: 42}}}
	m.Push(context.Background(), pkt)

	m.mu.Lock()
	again := m.flushAgain
	m.mu.Unlock()
	assert.True(t, again, "a push during an in-flight flush must set the flush-again bit")

	// release the simulated in-flight flush and let the real one run
	m.mu.Lock()
	m.flushing = false
	m.mu.Unlock()
	m.requestFlush()

	got := readOne(t, listener)
	require.True(t, len(got) >= 19)
	assert.Equal(t, byte(42), got[18+1])
}

func TestSendFailureIsSwallowed(t *testing.T) {
	m := NewManager(20)
	m.dial = func(network, addr string) (*net.UDPConn, error) {
		return nil, errors.New("boom")
	}
	m.AddTarget(Target{ID: "t1", Host: "127.0.0.1", Port: 9})

	pkt := &render.Packet{DMXByUniverse: map[int]*[render.UniverseSize]byte{0: {}}}
	assert.NotPanics(t, func() {
		m.Push(context.Background(), pkt)
		time.Sleep(50 * time.Millisecond)
	})
}

func TestStartAndStopRefreshLoop(t *testing.T) {
	m := NewManager(20)
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	m.Stop()
	cancel()
}
