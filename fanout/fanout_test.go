package fanout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ameesme/chaser-v2/render"
)

type recordingOutput struct {
	pushed []*render.Packet
}

func (r *recordingOutput) Push(_ context.Context, pkt *render.Packet) {
	r.pushed = append(r.pushed, pkt)
}

type panickingOutput struct{}

func (panickingOutput) Push(context.Context, *render.Packet) {
	panic("boom")
}

func TestPushDeliversToEveryRegisteredOutput(t *testing.T) {
	r := NewRenderer()
	a := &recordingOutput{}
	b := &recordingOutput{}
	r.Register("a", a)
	r.Register("b", b)

	pkt := &render.Packet{EnvironmentID: "stage"}
	r.Push(context.Background(), pkt)

	assert.Len(t, a.pushed, 1)
	assert.Len(t, b.pushed, 1)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	r := NewRenderer()
	a := &recordingOutput{}
	r.Register("a", a)
	r.Unregister("a")

	r.Push(context.Background(), &render.Packet{})
	assert.Empty(t, a.pushed)
}

func TestPushIgnoresNilPacket(t *testing.T) {
	r := NewRenderer()
	a := &recordingOutput{}
	r.Register("a", a)
	r.Push(context.Background(), nil)
	assert.Empty(t, a.pushed)
}

func TestPushRecoversFromOutputPanic(t *testing.T) {
	r := NewRenderer()
	r.Register("panicking", panickingOutput{})
	good := &recordingOutput{}
	r.Register("good", good)

	assert.NotPanics(t, func() {
		r.Push(context.Background(), &render.Packet{})
	})
	assert.Len(t, good.pushed, 1, "a panicking output must not prevent delivery to others")
}
