package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/hfsync/internal/config"
	"github.com/Faultbox/hfsync/internal/history"
	"github.com/Faultbox/hfsync/internal/loader"
	"github.com/Faultbox/hfsync/internal/logger"
	"github.com/Faultbox/hfsync/internal/output"
	"github.com/Faultbox/hfsync/internal/scene"
	"github.com/Faultbox/hfsync/pkg/hapi"
	"github.com/Faultbox/hfsync/pkg/hapi/memsession"
)

// syncer owns the session, the scene and the output of one geometry file.
// It is the loader handler, so all of its state lives on the main goroutine.
type syncer struct {
	cfg     *config.Config
	file    string
	session *memsession.Session
	graph   *scene.Graph
	gen     *output.Generator
	hist    *history.Store
	log     *zap.Logger

	node    hapi.NodeID
	current *output.GeneratedOutput
	started time.Time
	err     error
}

func newSyncer(cfg *config.Config, f syncFlags) (*syncer, error) {
	file, err := filepath.Abs(f.file)
	if err != nil {
		return nil, err
	}

	session, err := buildSession(cfg, file, f.fixture)
	if err != nil {
		return nil, err
	}

	graph := scene.NewGraph()
	s := &syncer{
		cfg:     cfg,
		file:    file,
		session: session,
		graph:   graph,
		gen: output.NewGenerator(graph, output.Options{
			AssetDir:    cfg.Output.AssetDir,
			PreviewMesh: f.mesh,
		}),
		log:  logger.Named("sync"),
		node: hapi.InvalidNodeID,
	}

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.DBPath)
		if err != nil {
			s.log.Warn("history disabled", zap.Error(err))
		} else {
			s.hist = store
		}
	}
	return s, nil
}

// buildSession serves every configured fixture, plus fixture for file.
func buildSession(cfg *config.Config, file, fixture string) (*memsession.Session, error) {
	session := memsession.New()
	session.CookSteps = cfg.Session.CookSteps

	register := func(geoPath, fixturePath string) error {
		abs, err := filepath.Abs(geoPath)
		if err != nil {
			return err
		}
		geo, err := memsession.LoadFixture(fixturePath)
		if err != nil {
			return fmt.Errorf("fixture for %s: %w", geoPath, err)
		}
		session.Register(abs, geo)
		return nil
	}

	for geoPath, fixturePath := range cfg.Session.Fixtures {
		if err := register(geoPath, fixturePath); err != nil {
			return nil, err
		}
	}
	if fixture != "" {
		if err := register(file, fixture); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// Sync runs one load of the file and replaces the previous output with
// the result.
func (s *syncer) Sync(ctx context.Context) error {
	s.err = nil
	s.started = time.Now()

	task := loader.NewTask(loader.Options{
		PollInterval: s.cfg.Loader.PollInterval,
		Extensions:   s.cfg.Loader.Extensions,
	})
	task.Setup(s.file, s, s.session, s.node)

	d := loader.NewDispatcher()
	d.Start(ctx, task)
	if err := d.Wait(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	return s.err
}

// OnComplete implements loader.Handler.
func (s *syncer) OnComplete(data loader.LoadData) {
	if data.NodeID.IsValid() {
		s.node = data.NodeID
	}

	entry := history.Entry{
		File:   data.FilePath,
		Status: data.Status.String(),
		Tiles:  len(data.Tiles),
		Layers: data.LayerCount(),
		Log:    data.Log,
	}

	if data.Status != loader.StatusSuccess {
		s.err = fmt.Errorf("load failed:\n%s", data.Log)
		s.record(entry)
		return
	}

	if s.current != nil {
		if err := s.current.Destroy(s.graph); err != nil {
			s.log.Warn("previous output not fully removed", zap.Error(err))
		}
		s.current = nil
	}

	out, err := s.gen.Generate(&data, output.NoParent)
	if err != nil {
		s.err = err
		entry.Status = loader.StatusError.String()
		entry.Log += "\nError: " + err.Error()
		s.record(entry)
		return
	}
	s.current = out
	entry.Assets = len(out.OutputFiles)

	if err := s.writeScene(); err != nil {
		s.err = err
	}
	s.record(entry)

	fmt.Println(data.Log)
	for _, f := range out.OutputFiles {
		fmt.Printf("  wrote %s\n", f)
	}
}

// OnStopped implements loader.Handler.
func (s *syncer) OnStopped(data loader.LoadData) {
	if data.NodeID.IsValid() {
		s.node = data.NodeID
	}
	s.err = context.Canceled
	s.log.Info("sync stopped", zap.String("file", data.FilePath), zap.Stringer("status", data.Status))
}

func (s *syncer) record(e history.Entry) {
	if s.hist == nil {
		return
	}
	e.Duration = time.Since(s.started)
	if _, err := s.hist.Record(context.Background(), e); err != nil {
		s.log.Warn("history record failed", zap.Error(err))
	}
}

func (s *syncer) writeScene() error {
	path := s.cfg.Output.SceneFile
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.graph.Dump(f); err != nil {
		f.Close()
		return fmt.Errorf("dump scene: %w", err)
	}
	return f.Close()
}

func (s *syncer) Close() {
	if s.hist != nil {
		if err := s.hist.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			s.log.Warn("closing history", zap.Error(err))
		}
	}
	s.session.Close()
}
