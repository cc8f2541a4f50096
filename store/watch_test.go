package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ameesme/chaser-v2/program"
	"github.com/ameesme/chaser-v2/sequencer"
)

func TestWatcherReloadsProgramOnFileChange(t *testing.T) {
	dir := writeDataDir(t)
	seq := sequencer.New()

	catalog, err := Load(dir)
	require.NoError(t, err)
	seq.SetProgram(catalog.Programs["chase"], sequencer.SetProgramOptions{SuppressEmit: true})
	seq.SetStep(1)

	w := NewWatcher(dir, seq, "chase")
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "programs.json"), []byte(`[
		{"id":"chase","name":"Chase","environmentId":"stage","tempoBpm":60,"steps":[
			{"id":"s1","durationMs":500,"fadeMs":0,"frames":[
				{"fixtureId":"par1","featureId":"rgb","value":[1,1,1]}
			]},
			{"id":"s2","durationMs":500,"fadeMs":0,"frames":[
				{"fixtureId":"par1","featureId":"rgb","value":[2,2,2]}
			]}
		]}
	]`), 0o644))

	// The reload re-applies the transport state from before the swap
	// (SPM included), so the rebinding shows in step s2's new values.
	require.Eventually(t, func() bool {
		v := seq.GetFrame().LayerBValues[program.FrameKey{FixtureID: "par1", FeatureID: "rgb"}]
		return bytes.Equal(v, []byte{2, 2, 2})
	}, 2*time.Second, 10*time.Millisecond, "watcher should pick up the edited program")

	assert.Equal(t, 1, seq.GetState().StepIndex, "playhead must survive the reload")
	assert.Equal(t, 90, seq.GetState().SPM, "the reload restores the previous SPM")
}

func TestWatcherKeepsPreviousProgramOnReloadFailure(t *testing.T) {
	dir := writeDataDir(t)
	seq := sequencer.New()

	catalog, err := Load(dir)
	require.NoError(t, err)
	seq.SetProgram(catalog.Programs["chase"], sequencer.SetProgramOptions{SuppressEmit: true})

	w := NewWatcher(dir, seq, "chase")
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "programs.json"), []byte(`not json`), 0o644))

	// give the watch goroutine a chance to process the (failing) reload
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 90, seq.GetState().SPM, "a broken reload must leave the bound program untouched")
}
