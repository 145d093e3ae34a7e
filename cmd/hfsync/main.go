// hfsync loads engine heightfields from geometry files and builds terrain
// scene nodes and assets from them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/hfsync/internal/config"
	"github.com/Faultbox/hfsync/internal/history"
	"github.com/Faultbox/hfsync/internal/logger"
	"github.com/Faultbox/hfsync/internal/output"
	"github.com/Faultbox/hfsync/internal/watch"
	"github.com/Faultbox/hfsync/pkg/hapi/memsession"
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Usage = printUsage
	config.ParseFlags()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		return 1
	}
	command, args := args[0], args[1:]
	if command == "help" {
		printUsage()
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return 1
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()
	logger.Info("hfsync", zap.String("command", command), zap.Strings("args", args))
	logger.Sugar.Debugf("Config: %+v", cfg)

	if config.SaveRequested() {
		if err := cfg.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
			return 1
		}
		fmt.Printf("Saved config to %s\n", config.UserConfigPath())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "sync":
		err = cmdSync(ctx, cfg, args)
	case "watch":
		err = cmdWatch(ctx, cfg, args)
	case "inspect":
		err = cmdInspect(args)
	case "history":
		err = cmdHistory(ctx, cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return 1
	}
	if err != nil {
		logger.Error("command failed", zap.String("command", command), zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Println(`hfsync - engine heightfield to terrain sync

Usage:
  hfsync [global options] <command> [options]

Commands:
  sync [-fixture f.yaml] [-mesh] <file.bgeo>   Load a file and generate terrain
  watch [-fixture f.yaml] [-mesh] <file.bgeo>  Re-sync whenever the file changes
  inspect <file.hfterrain|fixture.yaml>        Show an asset or fixture summary
  history [-n N] [file.bgeo]                   List recent syncs

Global options:
  -config, -debug, -log-file, -out, -scene, -poll, -history-db, -no-history, -save-config

Examples:
  hfsync -out ./assets sync -fixture island.yaml island.bgeo
  hfsync -scene scene.yaml watch island.bgeo
  hfsync history -n 5`)
}

type syncFlags struct {
	fixture string
	mesh    bool
	file    string
}

func parseSyncFlags(name string, cfg *config.Config, args []string) (syncFlags, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fixture := fs.String("fixture", "", "Fixture YAML the session serves for the file")
	mesh := fs.Bool("mesh", cfg.Output.PreviewMesh, "Attach a preview mesh to each tile")
	if err := fs.Parse(args); err != nil {
		return syncFlags{}, err
	}
	if fs.NArg() != 1 {
		return syncFlags{}, fmt.Errorf("usage: hfsync %s [-fixture f.yaml] [-mesh] <file.bgeo>", name)
	}
	return syncFlags{fixture: *fixture, mesh: *mesh, file: fs.Arg(0)}, nil
}

func cmdSync(ctx context.Context, cfg *config.Config, args []string) error {
	f, err := parseSyncFlags("sync", cfg, args)
	if err != nil {
		return err
	}
	s, err := newSyncer(cfg, f)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Sync(ctx)
}

func cmdWatch(ctx context.Context, cfg *config.Config, args []string) error {
	f, err := parseSyncFlags("watch", cfg, args)
	if err != nil {
		return err
	}
	s, err := newSyncer(cfg, f)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Sync(ctx); err != nil {
		// Keep watching; the next save may fix it.
		logger.Warn("initial sync failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	w := watch.New(s.file, cfg.Watch.Debounce)
	fmt.Printf("Watching %s (Ctrl+C to stop)\n", w.Path())
	return w.Run(ctx, func() {
		if err := s.Sync(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	})
}

func cmdInspect(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: hfsync inspect <file.hfterrain|fixture.yaml>")
	}
	path := args[0]
	logger.Debug("inspect", zap.String("path", path))

	if strings.HasSuffix(path, output.TerrainAssetExt) {
		asset, err := output.ReadTerrainAsset(path)
		if err != nil {
			return err
		}
		fmt.Printf("Asset:      %s\n", path)
		fmt.Printf("Tile:       %d\n", asset.Header.Tile)
		fmt.Printf("Resolution: %d\n", asset.Header.Resolution)
		fmt.Printf("Size:       %.0f x %.0f x %.0f\n", asset.Size.X, asset.Size.Height, asset.Size.Z)
		if asset.Header.Source != "" {
			fmt.Printf("Source:     %s\n", asset.Header.Source)
		}
		fmt.Printf("Layers:     %d\n", len(asset.Layers))
		for _, l := range asset.Layers {
			fmt.Printf("  %-16s %s\n", l.Name, l.DiffuseTexture)
		}
		return nil
	}

	geo, err := memsession.LoadFixture(path)
	if err != nil {
		return err
	}
	fmt.Printf("Fixture: %s\n", path)
	fmt.Printf("Parts:   %d\n", len(geo.Parts))
	for i, p := range geo.Parts {
		line := fmt.Sprintf("  [%d] %-8s %s", i, p.Type, p.Name)
		if p.Volume != nil {
			line += fmt.Sprintf(" volume=%s %dx%d", p.Volume.Name, p.Volume.XLength, p.Volume.YLength)
		}
		fmt.Println(line)
	}
	return nil
}

func cmdHistory(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("n", 20, "Number of entries to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	file := ""
	if fs.NArg() > 0 {
		abs, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			return err
		}
		file = abs
	}

	store, err := history.Open(cfg.History.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(ctx, file, *limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No syncs recorded")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSTATUS\tTILES\tLAYERS\tTOOK\tFILE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			e.At.Format(time.DateTime), e.Status, e.Tiles, e.Layers, e.Duration, e.File)
	}
	return tw.Flush()
}
