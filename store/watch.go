package store

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"

	"github.com/ameesme/chaser-v2/logging"
	"github.com/ameesme/chaser-v2/program"
	"github.com/ameesme/chaser-v2/sequencer"
)

// Watcher reloads a data directory's Catalog whenever its JSON files
// change and rebinds the given sequencer to the reloaded program,
// preserving the playhead across the swap. Grounded on the teacher's
// fsnotify-driven config hot-reload.
type Watcher struct {
	dir       string
	programID string
	seq       *sequencer.Sequencer
	log       *slog.Logger

	environmentID     string
	onProgramsChanged func([]*program.Program)

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher prepares a Watcher for dir. programID names the program
// within the reloaded catalog that should stay bound to seq.
func NewWatcher(dir string, seq *sequencer.Sequencer, programID string) *Watcher {
	return &Watcher{
		dir:       dir,
		programID: programID,
		seq:       seq,
		log:       logging.Component("store"),
	}
}

// WatchPrograms registers onChange to be called with the live program
// list scoped to environmentID on every successful reload, so a
// consumer like mqtt.Bridge can keep its discovery/trigger program
// list current instead of the one captured at construction time.
func (w *Watcher) WatchPrograms(environmentID string, onChange func([]*program.Program)) {
	w.environmentID = environmentID
	w.onProgramsChanged = onChange
}

// Start begins watching dir. Each write/create/rename event triggers a
// reload; parse or validation failures are logged and ignored, leaving
// the sequencer bound to its last-known-good program (spec.md §7 kind
// 4: structural errors are dropped, never fatal).
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw
	w.done = make(chan struct{})

	go func() {
		for {
			select {
			case <-w.done:
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					w.reload()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.log.Warn("watch error", "error", err)
			}
		}
	}()
	return nil
}

// Stop ends the watch goroutine and releases the underlying fsnotify
// handle.
func (w *Watcher) Stop() {
	if w.watcher == nil {
		return
	}
	close(w.done)
	w.watcher.Close()
}

func (w *Watcher) reload() {
	catalog, err := Load(w.dir)
	if err != nil {
		w.log.Warn("reload failed, keeping previous program bound", "error", err)
		return
	}
	p, ok := catalog.Programs[w.programID]
	if !ok {
		w.log.Warn("reloaded catalog no longer has bound program", "program", w.programID)
		return
	}

	prev := w.seq.GetState()
	w.seq.SetProgram(p, sequencer.SetProgramOptions{PreservePlayhead: true, SuppressEmit: true})
	w.seq.ApplyStateSnapshot(sequencer.StateSnapshot{
		StepIndex:  &prev.StepIndex,
		PositionMs: &prev.PositionMs,
		SPM:        &prev.SPM,
		Loop:       &prev.Loop,
		Blackout:   &prev.IsBlackout,
		IsPlaying:  &prev.IsPlaying,
	})

	if w.onProgramsChanged != nil {
		w.onProgramsChanged(catalog.ProgramsForEnvironment(w.environmentID))
	}
}
