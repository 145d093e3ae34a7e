package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Faultbox/hfsync/pkg/hapi"
	"github.com/Faultbox/hfsync/pkg/hapi/memsession"
)

// writeGeoFile creates an (empty) geometry file the task can stat.
func writeGeoFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("Bgeo"), 0644); err != nil {
		t.Fatalf("failed to write geometry file: %v", err)
	}
	return path
}

func ramp(n int, top float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(i) * top / float32(n-1)
	}
	return s
}

func volumePart(name string, res int, samples []float32, attrs ...memsession.Attribute) memsession.Part {
	return memsession.Part{
		Name: name,
		Type: "volume",
		Volume: &memsession.Volume{
			Name:      name,
			XLength:   res,
			YLength:   res,
			ZLength:   1,
			TupleSize: 1,
			Storage:   "float",
			Position:  [3]float32{10, 0, 20},
			Rotation:  [4]float32{0, 0, 0, 1},
			Scale:     [3]float32{5, 5, 0.5},
			Samples:   samples,
		},
		Attributes: attrs,
	}
}

func tileAttr(i int32) memsession.Attribute {
	return memsession.Attribute{Name: AttrTile, Owner: "prim", Storage: "int", TupleSize: 1, Ints: []int32{i}}
}

func newSession(path string, parts ...memsession.Part) *memsession.Session {
	s := memsession.New()
	s.CookSteps = 1
	s.Register(path, &memsession.Geometry{Name: "test", Parts: parts})
	return s
}

func runTask(t *testing.T, s hapi.Session, path string) (LoadData, error) {
	t.Helper()
	task := NewTask(Options{})
	task.Setup(path, nil, s, hapi.InvalidNodeID)
	return task.Run(context.Background())
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to LoadStatus
		ok       bool
	}{
		{StatusNone, StatusStarted, true},
		{StatusNone, StatusSuccess, false},
		{StatusStarted, StatusSuccess, true},
		{StatusStarted, StatusError, true},
		{StatusStarted, StatusNone, false},
		{StatusSuccess, StatusError, false},
		{StatusError, StatusStarted, false},
	}
	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
	if StatusStarted.IsTerminal() || !StatusError.IsTerminal() {
		t.Error("unexpected terminal classification")
	}
}

func TestTask_SingleHeightLayer(t *testing.T) {
	path := writeGeoFile(t, "island.bgeo")
	s := newSession(path, volumePart("height", 4, ramp(16, 10)))

	data, err := runTask(t, s, path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if data.Status != StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", data.Status)
	}
	if len(data.Tiles) != 1 {
		t.Fatalf("expected 1 tile, got %d", len(data.Tiles))
	}

	tile := data.Tiles[0]
	count := 0
	for _, row := range tile.Heights {
		for _, v := range row {
			count++
			if v < 0 || v > 1 {
				t.Errorf("height %v out of [0,1]", v)
			}
		}
	}
	if count != 16 {
		t.Errorf("expected 16 heights, got %d", count)
	}
	if tile.Heights[0][3] != 0 || tile.Heights[3][0] != 1 {
		t.Errorf("unexpected corners: [0][3]=%v [3][0]=%v", tile.Heights[0][3], tile.Heights[3][0])
	}
	if tile.Size.X != 30 || tile.Size.Z != 30 || tile.Size.Height != 10 {
		t.Errorf("unexpected terrain size %+v", tile.Size)
	}
	if tile.Resolution != 4 || tile.MinHeight != 0 || tile.MaxHeight != 10 {
		t.Errorf("unexpected tile fields res=%d min=%v max=%v", tile.Resolution, tile.MinHeight, tile.MaxHeight)
	}
	// Bounds are position +/- scale: x in [5, 15], z in [19.5, 20.5].
	if tile.Position != [3]float32{-15, 0, 19.5} {
		t.Errorf("unexpected position %v", tile.Position)
	}
	if len(tile.Splats) != 4 || len(tile.Splats[0][0]) != 0 {
		t.Errorf("expected empty splat cells for a height-only tile")
	}
	if !strings.Contains(data.Log, "Loaded 1 tile(s)") {
		t.Errorf("unexpected log %q", data.Log)
	}
	if !data.NodeID.IsValid() {
		t.Error("expected a resolved node id")
	}
}

func TestTask_HeightLayerFirst(t *testing.T) {
	path := writeGeoFile(t, "layers.bgeo.sc")
	s := newSession(path,
		volumePart("mask", 4, ramp(16, 1)),
		volumePart("height", 4, ramp(16, 10)),
		volumePart("diffuse_aux", 4, ramp(16, 0.5)),
	)

	data, err := runTask(t, s, path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	tile := data.Tiles[0]
	want := []string{"height", "mask", "diffuse_aux"}
	if len(tile.Layers) != len(want) {
		t.Fatalf("expected %d layers, got %d", len(want), len(tile.Layers))
	}
	for i, name := range want {
		if tile.Layers[i].Name != name {
			t.Errorf("layer %d: got %s, want %s", i, tile.Layers[i].Name, name)
		}
	}

	entries := 0
	for _, row := range tile.Splats {
		for _, cell := range row {
			entries += len(cell)
		}
	}
	if entries != 4*4*2 {
		t.Errorf("expected %d splat entries, got %d", 4*4*2, entries)
	}
	// Sample index 15 lands at row 3, col 0; mask ramps to 1 there.
	if tile.Splats[3][0][0] != 1 || tile.Splats[3][0][1] != 0.5 {
		t.Errorf("unexpected splat cell %v", tile.Splats[3][0])
	}
}

func TestTask_TileGrouping(t *testing.T) {
	path := writeGeoFile(t, "tiles.bgeo")
	s := newSession(path,
		volumePart("height", 2, ramp(4, 1), tileAttr(1)),
		volumePart("height", 2, ramp(4, 2)),
		volumePart("mask", 2, ramp(4, 1), tileAttr(1)),
		volumePart("mask", 2, ramp(4, 1)),
	)

	data, err := runTask(t, s, path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(data.Tiles) != 2 {
		t.Fatalf("expected 2 tiles, got %d", len(data.Tiles))
	}
	for i, tile := range data.Tiles {
		if tile.Index != i {
			t.Errorf("tile %d has index %d", i, tile.Index)
		}
		if len(tile.Layers) != 2 || tile.Layers[0].Name != "height" {
			t.Errorf("tile %d: unexpected layers", tile.Index)
		}
	}
	if data.Tiles[0].MaxHeight != 2 || data.Tiles[1].MaxHeight != 1 {
		t.Errorf("layers landed in the wrong tiles: max heights %v, %v", data.Tiles[0].MaxHeight, data.Tiles[1].MaxHeight)
	}
}

func TestTask_VolumeShapeRejected(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*memsession.Volume)
	}{
		{"vector volume", func(v *memsession.Volume) { v.TupleSize = 2 }},
		{"deep volume", func(v *memsession.Volume) { v.ZLength = 2 }},
		{"int storage", func(v *memsession.Volume) { v.Storage = "int" }},
		{"not square", func(v *memsession.Volume) { v.YLength = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeGeoFile(t, "bad.bgeo")
			good := volumePart("height", 2, ramp(4, 1))
			bad := volumePart("mask", 2, ramp(4, 1))
			tt.mutate(bad.Volume)
			s := newSession(path, good, bad)

			data, err := runTask(t, s, path)
			if !errors.Is(err, ErrVolumeShape) {
				t.Fatalf("expected ErrVolumeShape, got %v", err)
			}
			if data.Status != StatusError {
				t.Errorf("expected ERROR, got %s", data.Status)
			}
			if data.Tiles != nil {
				t.Errorf("expected no tiles on error, got %d", len(data.Tiles))
			}
		})
	}
}

func TestTask_InputErrors(t *testing.T) {
	dir := t.TempDir()
	obj := filepath.Join(dir, "model.obj")
	os.WriteFile(obj, []byte("o"), 0644)

	closed := memsession.New()
	closed.Close()

	tests := []struct {
		name    string
		session hapi.Session
		path    string
		kind    error
	}{
		{"wrong extension", memsession.New(), obj, ErrInput},
		{"missing file", memsession.New(), filepath.Join(dir, "missing.bgeo"), ErrInput},
		{"empty path", memsession.New(), "", ErrInput},
		{"closed session", closed, obj, ErrSession},
		{"nil session", nil, obj, ErrSession},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := runTask(t, tt.session, tt.path)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("expected %v, got %v", tt.kind, err)
			}
			if data.Status != StatusError {
				t.Errorf("expected ERROR, got %s", data.Status)
			}
			if !strings.Contains(data.Log, "Error:") {
				t.Errorf("expected error in log, got %q", data.Log)
			}
		})
	}
}

func TestTask_CookErrorCarriesDiagnostics(t *testing.T) {
	path := writeGeoFile(t, "broken.bgeo")
	s := memsession.New()
	s.CookSteps = 0

	data, err := runTask(t, s, path)
	if !errors.Is(err, ErrCook) {
		t.Fatalf("expected ErrCook, got %v", err)
	}
	if !strings.Contains(err.Error(), "unable to read file") {
		t.Errorf("expected engine diagnostics in error, got %q", err)
	}
	if !strings.Contains(data.Log, "unable to read file") {
		t.Errorf("expected engine diagnostics in log, got %q", data.Log)
	}
}

func TestTask_SessionCallFailure(t *testing.T) {
	path := writeGeoFile(t, "island.bgeo")
	s := newSession(path, volumePart("height", 2, ramp(4, 1)))
	boom := errors.New("pipe closed")
	s.Fail("GetHeightFieldData", boom)

	data, err := runTask(t, s, path)
	if !errors.Is(err, ErrSession) || !errors.Is(err, boom) {
		t.Fatalf("expected session error wrapping cause, got %v", err)
	}
	if data.Tiles != nil {
		t.Error("expected no tiles on error")
	}
}

func TestTask_ReusesExistingNode(t *testing.T) {
	path := writeGeoFile(t, "island.bgeo")
	s := newSession(path, volumePart("height", 2, ramp(4, 1)))
	node, err := s.CreateNode(hapi.InvalidNodeID, FileOperator, "island", false)
	if err != nil {
		t.Fatal(err)
	}
	before := s.NodeCount()

	task := NewTask(Options{})
	task.Setup(path, nil, s, node)
	data, err := task.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if data.NodeID != node {
		t.Errorf("expected node %d, got %d", node, data.NodeID)
	}
	if s.NodeCount() != before {
		t.Errorf("expected no new nodes, had %d now %d", before, s.NodeCount())
	}
}

func TestTask_MeshPartsSkipped(t *testing.T) {
	path := writeGeoFile(t, "mixed.bgeo")
	s := newSession(path,
		memsession.Part{Name: "rocks", Type: "mesh", PointCount: 8},
		volumePart("height", 2, ramp(4, 1)),
		memsession.Part{Name: "path", Type: "curve"},
	)

	data, err := runTask(t, s, path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if data.MeshParts != 1 {
		t.Errorf("expected 1 mesh part, got %d", data.MeshParts)
	}
	if len(data.Tiles) != 1 {
		t.Errorf("expected 1 tile, got %d", len(data.Tiles))
	}
}

func TestTask_RunOnce(t *testing.T) {
	path := writeGeoFile(t, "island.bgeo")
	s := newSession(path, volumePart("height", 2, ramp(4, 1)))

	task := NewTask(Options{})
	task.Setup(path, nil, s, hapi.InvalidNodeID)
	if _, err := task.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := task.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("expected ErrAlreadyRun, got %v", err)
	}
	if task.Status() != StatusSuccess {
		t.Errorf("second Run changed status to %s", task.Status())
	}

	var fresh Task
	if _, err := fresh.Run(context.Background()); !errors.Is(err, ErrNotSetup) {
		t.Errorf("expected ErrNotSetup, got %v", err)
	}
}

func TestTask_StepDrivesPolling(t *testing.T) {
	path := writeGeoFile(t, "island.bgeo")
	s := newSession(path, volumePart("height", 2, ramp(4, 1)))
	s.CookSteps = 2

	task := NewTask(Options{})
	task.Setup(path, nil, s, hapi.InvalidNodeID)

	waits := 0
	for i := 0; i < 100; i++ {
		res := task.Step()
		switch res.Kind {
		case StepWait:
			waits++
			continue
		case StepContinue:
			continue
		case StepDone:
			if waits != 2 {
				t.Errorf("expected 2 wait steps while cooking, got %d", waits)
			}
			if res.Data.Status != StatusSuccess {
				t.Errorf("expected SUCCESS, got %s", res.Data.Status)
			}
			return
		case StepFailed:
			t.Fatalf("step failed: %v", res.Err)
		}
	}
	t.Fatal("task never finished")
}

func TestTask_StepObservesStop(t *testing.T) {
	path := writeGeoFile(t, "island.bgeo")
	s := newSession(path, volumePart("height", 2, ramp(4, 1)))
	s.CookSteps = -1

	task := NewTask(Options{})
	task.Setup(path, nil, s, hapi.InvalidNodeID)

	for i := 0; task.Step().Kind != StepWait; i++ {
		if i > 100 {
			t.Fatal("task never reached polling")
		}
	}
	polls := s.Polls()
	task.Stop()

	for range 2 {
		res := task.Step()
		if res.Kind != StepFailed || !IsStopped(res.Err) {
			t.Fatalf("expected a stopped failure, got %v / %v", res.Kind, res.Err)
		}
		if res.Data.Status != StatusStarted || res.Data.Tiles != nil {
			t.Errorf("expected STARTED with no tiles, got %s / %d tiles", res.Data.Status, len(res.Data.Tiles))
		}
	}
	if task.Status() != StatusStarted {
		t.Errorf("status must stay STARTED, got %s", task.Status())
	}
	if s.Polls() != polls {
		t.Errorf("stopped task kept polling: %d -> %d", polls, s.Polls())
	}
}

func TestTask_StopBeforeRun(t *testing.T) {
	path := writeGeoFile(t, "island.bgeo")
	s := newSession(path, volumePart("height", 2, ramp(4, 1)))

	task := NewTask(Options{PollInterval: time.Millisecond})
	task.Setup(path, nil, s, hapi.InvalidNodeID)
	task.Stop()

	data, err := task.Run(context.Background())
	if !IsStopped(err) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if data.Status.IsTerminal() || data.Tiles != nil {
		t.Errorf("stopped task exposed a result: %+v", data)
	}
	if s.NodeCount() != 0 {
		t.Error("stopped task should not have touched the session")
	}
}
