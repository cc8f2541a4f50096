// Command chaserd wires the chaser pipeline together: it loads ops
// config and fixture/environment/program data, builds the sequencer and
// render pipeline, registers the Art-Net and MQTT outputs named by the
// environment's configuration, and runs until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ameesme/chaser-v2/artnet"
	"github.com/ameesme/chaser-v2/config"
	"github.com/ameesme/chaser-v2/environment"
	"github.com/ameesme/chaser-v2/fanout"
	"github.com/ameesme/chaser-v2/logging"
	"github.com/ameesme/chaser-v2/mqtt"
	"github.com/ameesme/chaser-v2/program"
	"github.com/ameesme/chaser-v2/render"
	"github.com/ameesme/chaser-v2/sequencer"
	"github.com/ameesme/chaser-v2/store"
)

func main() {
	configPath := flag.String("config", "chaser.yml", "path to the ops config file")
	environmentID := flag.String("environment", "", "environment id to run (defaults to the only environment, if there's exactly one)")
	programID := flag.String("program", "", "program id to bind at startup")
	flag.Parse()

	if err := run(*configPath, *environmentID, *programID); err != nil {
		fmt.Fprintln(os.Stderr, "chaserd:", err)
		os.Exit(1)
	}
}

func run(configPath, environmentID, programID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := logging.Init(true, cfg.LogLevel, cfg.LogFormat, cfg.LogFile); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer logging.Close()
	if err := logging.SetOutput(os.Stdout); err != nil {
		return fmt.Errorf("attaching log sink: %w", err)
	}

	catalog, err := store.Load(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("loading data directory %q: %w", cfg.DataDir, err)
	}

	env, err := resolveEnvironment(catalog, environmentID)
	if err != nil {
		return err
	}

	seq := sequencer.New()
	seq.SetFrameRate(env.EffectiveRenderFPS())

	if programID != "" {
		p, ok := catalog.Programs[programID]
		if !ok {
			return fmt.Errorf("program %q not found in %s", programID, cfg.DataDir)
		}
		seq.SetProgram(p, sequencer.SetProgramOptions{SuppressEmit: true})
	}

	renderer := fanout.NewRenderer()
	builder := render.NewBuilder()
	seq.Subscribe(func(f sequencer.Frame) {
		pkt := builder.Build(render.Input{Values: f.Values}, env, catalog.Types)
		renderer.Push(context.Background(), pkt)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	artnetManagers, err := registerArtnetOutputs(ctx, env, cfg, renderer)
	if err != nil {
		return err
	}
	defer func() {
		for _, m := range artnetManagers {
			m.Stop()
		}
	}()

	bridges, err := registerMQTTOutputs(ctx, env, catalog, seq)
	if err != nil {
		return err
	}
	defer func() {
		for _, b := range bridges {
			b.Stop()
		}
	}()

	watcher := store.NewWatcher(cfg.DataDir, seq, programID)
	watcher.WatchPrograms(env.ID, func(programs []*program.Program) {
		for _, b := range bridges {
			b.SetPrograms(programs)
		}
	})
	if programID != "" {
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("starting data watcher: %w", err)
		}
		defer watcher.Stop()
	}

	slog.Info("chaserd started", "environment", env.ID, "fixtures", len(env.Fixtures), "outputs", len(env.Outputs))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	slog.Info("chaserd shutting down")
	return nil
}

func resolveEnvironment(catalog *store.Catalog, environmentID string) (*environment.Environment, error) {
	if environmentID != "" {
		env, ok := catalog.Environments[environmentID]
		if !ok {
			return nil, fmt.Errorf("environment %q not found", environmentID)
		}
		return env, nil
	}
	if len(catalog.Environments) == 1 {
		for _, env := range catalog.Environments {
			return env, nil
		}
	}
	return nil, fmt.Errorf("no environment specified and %d environments are available; pass -environment", len(catalog.Environments))
}

func registerArtnetOutputs(ctx context.Context, env *environment.Environment, cfg config.OpsConfig, renderer *fanout.Renderer) ([]*artnet.Manager, error) {
	var managers []*artnet.Manager
	for _, out := range env.Outputs {
		if out.Kind != environment.OutputArtNet || !out.Enabled {
			continue
		}
		mgr := artnet.NewManager(cfg.ArtnetRefreshMs)
		mgr.AddTarget(artnet.Target{ID: out.ID, Host: out.Host, Port: out.Port, Universes: out.Universes})
		mgr.Start(ctx)
		renderer.Register(out.ID, mgr)
		managers = append(managers, mgr)
	}
	return managers, nil
}

func registerMQTTOutputs(ctx context.Context, env *environment.Environment, catalog *store.Catalog, seq *sequencer.Sequencer) ([]*mqtt.Bridge, error) {
	var bridges []*mqtt.Bridge
	for _, out := range env.Outputs {
		if out.Kind != environment.OutputMQTT || !out.Enabled {
			continue
		}
		bridge := mqtt.New(mqtt.Config{
			EnvironmentID:   env.ID,
			OutputID:        out.ID,
			BrokerURL:       out.BrokerURL,
			BaseTopic:       out.BaseTopic,
			DiscoveryPrefix: out.DiscoveryPrefix,
			NodeID:          out.NodeID,
			LegacyTopic:     out.Topic,
		}, seq, env, catalog.Types, catalog.ProgramsForEnvironment(env.ID))
		if err := bridge.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting mqtt bridge %q: %w", out.ID, err)
		}
		bridges = append(bridges, bridge)
	}
	return bridges, nil
}
