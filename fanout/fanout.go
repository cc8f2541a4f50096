// Package fanout pushes each rendered packet into every registered
// output (spec.md §4's Renderer/Fan-out), grounded on the teacher's
// platform.Platform interface + displayDriver.
package fanout

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ameesme/chaser-v2/logging"
	"github.com/ameesme/chaser-v2/render"
)

// Output is the capability every transport target implements. Push must
// not block for long; transports that need background I/O (UDP sends,
// broker publishes) queue work internally and return quickly, per
// spec.md §5's concurrency model.
type Output interface {
	Push(ctx context.Context, pkt *render.Packet)
}

// Renderer fans a packet out to every registered Output.
type Renderer struct {
	mu      sync.RWMutex
	outputs map[string]Output
	log     *slog.Logger
}

// NewRenderer returns an empty Renderer.
func NewRenderer() *Renderer {
	return &Renderer{
		outputs: make(map[string]Output),
		log:     logging.Component("fanout"),
	}
}

// Register adds or replaces the output registered under id.
func (r *Renderer) Register(id string, out Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[id] = out
}

// Unregister removes the output registered under id.
func (r *Renderer) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.outputs, id)
}

// Push delivers pkt to every registered output. Per spec.md §5,
// listener/output invocation for one tick completes before the next
// begins; Push itself does not spawn goroutines — any output that needs
// async I/O owns that concurrency internally.
func (r *Renderer) Push(ctx context.Context, pkt *render.Packet) {
	if pkt == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, out := range r.outputs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error("output panicked handling packet", "output", id, "panic", rec)
				}
			}()
			out.Push(ctx, pkt)
		}()
	}
}
