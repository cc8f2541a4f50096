// Package artnet builds and transmits Art-DMX UDP datagrams, caching the
// latest frame per (host, port, universe) and retransmitting on a
// periodic refresh so fixtures never latch stale data (spec.md §4.5).
// Packet framing is grounded on scoobymooch-artnet_showrunner's
// buildArtDMX/ArtNetSender; the cache+refresh loop is grounded on the
// teacher's single-ticker AbstractProducer pattern.
package artnet

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gammazero/deque"

	"github.com/ameesme/chaser-v2/logging"
	"github.com/ameesme/chaser-v2/render"
)

const (
	opCodeOutput  = 0x5000
	protocolVer   = 14
	defaultPort   = 6454
	// RefreshFloorMs is the lowest period accepted for CHASER_ARTNET_REFRESH_MS.
	RefreshFloorMs = 20
	// DefaultRefreshMs is the refresh period when unset.
	DefaultRefreshMs = 40
)

// Target is one UDP destination this manager retransmits to. Universes,
// when non-empty, allow-lists which universes this target receives.
type Target struct {
	ID        string
	Host      string
	Port      int
	Universes []int
}

func (t Target) allows(universe int) bool {
	if len(t.Universes) == 0 {
		return true
	}
	for _, u := range t.Universes {
		if u == universe {
			return true
		}
	}
	return false
}

type cacheKey struct {
	host     string
	port     int
	universe int
}

// Manager is the Art-Net output: it implements fanout.Output and owns
// the cached-frame retransmit cadence described in spec.md §4.5.
type Manager struct {
	mu      sync.Mutex
	targets []Target
	cache   map[cacheKey][]byte
	order   *deque.Deque[cacheKey]

	conns map[string]*net.UDPConn

	flushing   bool
	flushAgain bool

	refreshPeriod time.Duration
	stop          chan struct{}
	log           *slog.Logger

	dial func(network, addr string) (*net.UDPConn, error)
}

// NewManager returns a Manager with the given refresh period, clamped to
// the floor spec.md §6 names.
func NewManager(refreshMs int) *Manager {
	if refreshMs < RefreshFloorMs {
		refreshMs = RefreshFloorMs
	}
	return &Manager{
		cache:         make(map[cacheKey][]byte),
		order:         deque.New[cacheKey](),
		conns:         make(map[string]*net.UDPConn),
		refreshPeriod: time.Duration(refreshMs) * time.Millisecond,
		log:           logging.Component("artnet"),
		dial: func(network, addr string) (*net.UDPConn, error) {
			raddr, err := net.ResolveUDPAddr(network, addr)
			if err != nil {
				return nil, err
			}
			return net.DialUDP(network, nil, raddr)
		},
	}
}

// AddTarget registers a UDP destination to retransmit cached frames to.
func (m *Manager) AddTarget(t Target) {
	if t.Port == 0 {
		t.Port = defaultPort
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets = append(m.targets, t)
}

// Start launches the periodic refresh loop. Cancel ctx or call Stop to
// end it.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.stop = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.refreshPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				m.requestFlush()
			}
		}
	}()
}

// Stop ends the refresh loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

// Push updates the cache for every enabled target whose allow-list
// covers a universe present in pkt, then requests a flush.
func (m *Manager) Push(_ context.Context, pkt *render.Packet) {
	if pkt == nil {
		return
	}
	m.mu.Lock()
	for universe, buf := range pkt.DMXByUniverse {
		payload := make([]byte, len(buf))
		copy(payload, buf[:])
		for _, t := range m.targets {
			if !t.allows(universe) {
				continue
			}
			key := cacheKey{host: t.Host, port: t.Port, universe: universe}
			if _, existed := m.cache[key]; !existed {
				m.order.PushBack(key)
			}
			m.cache[key] = payload
		}
	}
	m.mu.Unlock()
	m.requestFlush()
}

// requestFlush serializes sends: if a flush is already in progress, it
// sets the "flush again" bit and returns; the in-flight flush drains
// that bit before exiting (spec.md §4.5).
func (m *Manager) requestFlush() {
	m.mu.Lock()
	if m.flushing {
		m.flushAgain = true
		m.mu.Unlock()
		return
	}
	m.flushing = true
	m.mu.Unlock()
	go m.flushLoop()
}

func (m *Manager) flushLoop() {
	for {
		m.mu.Lock()
		keys := make([]cacheKey, m.order.Len())
		for i := 0; i < m.order.Len(); i++ {
			keys[i] = m.order.At(i)
		}
		frames := make([][]byte, len(keys))
		for i, k := range keys {
			frames[i] = m.cache[k]
		}
		m.mu.Unlock()

		for i, k := range keys {
			m.sendOne(k, frames[i])
		}

		m.mu.Lock()
		if m.flushAgain {
			m.flushAgain = false
			m.mu.Unlock()
			continue
		}
		m.flushing = false
		m.mu.Unlock()
		return
	}
}

func (m *Manager) sendOne(k cacheKey, payload []byte) {
	addr := net.JoinHostPort(k.host, itoa(k.port))
	m.mu.Lock()
	conn, ok := m.conns[addr]
	m.mu.Unlock()
	if !ok {
		var err error
		conn, err = m.dial("udp", addr)
		if err != nil {
			m.log.Warn("dial failed", "addr", addr, "error", err)
			return
		}
		m.mu.Lock()
		m.conns[addr] = conn
		m.mu.Unlock()
	}

	packet := buildArtDMX(k.universe, payload)
	if _, err := conn.Write(packet); err != nil {
		// Transient transport failure (spec.md §7 kind 2): log and skip.
		// The cache is untouched; the next refresh retries.
		m.log.Warn("send failed", "addr", addr, "universe", k.universe, "error", err)
	}
}

// buildArtDMX constructs the 18-byte-header Art-DMX datagram described
// bit-exact in spec.md §4.5: sequence and physical port are always 0
// (disabling sequence handling on receivers, per spec).
func buildArtDMX(universe int, payload []byte) []byte {
	pkt := make([]byte, 18+len(payload))
	copy(pkt[0:8], "Art-Net\x00")
	pkt[8] = byte(opCodeOutput & 0xFF)
	pkt[9] = byte((opCodeOutput >> 8) & 0xFF)
	pkt[10] = byte((protocolVer >> 8) & 0xFF)
	pkt[11] = byte(protocolVer & 0xFF)
	pkt[12] = 0 // sequence
	pkt[13] = 0 // physical port
	u := uint16(universe) & 0x7FFF
	pkt[14] = byte(u & 0xFF)
	pkt[15] = byte((u >> 8) & 0xFF)
	n := len(payload)
	pkt[16] = byte((n >> 8) & 0xFF)
	pkt[17] = byte(n & 0xFF)
	copy(pkt[18:], payload)
	return pkt
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [12]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
