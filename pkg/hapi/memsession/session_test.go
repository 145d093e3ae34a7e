package memsession

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Faultbox/hfsync/pkg/hapi"
)

const testFixture = `
name: island
parts:
  - name: height
    type: volume
    volume:
      name: height
      x_length: 2
      y_length: 2
      position: [0, 0, 0]
      scale: [5, 5, 0.5]
      samples: [0, 1, 2, 3]
    attributes:
      - name: tile
        owner: prim
        storage: int
        tuple_size: 1
        ints: [2]
  - name: rocks
    type: mesh
    point_count: 8
`

func cookToReady(t *testing.T, s *Session, node hapi.NodeID) hapi.State {
	t.Helper()
	if err := s.CookNode(node); err != nil {
		t.Fatalf("CookNode: %v", err)
	}
	for i := 0; i < 100; i++ {
		st, err := s.GetStatus(hapi.StatusCookState)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if !st.InProgress() {
			return st
		}
	}
	t.Fatal("cook never finished")
	return 0
}

func setFile(t *testing.T, s *Session, node hapi.NodeID, path string) {
	t.Helper()
	geo, err := s.GetDisplayGeoInfo(node)
	if err != nil {
		t.Fatalf("GetDisplayGeoInfo: %v", err)
	}
	parm, err := s.GetParmIDFromName(geo.NodeID, FileParm)
	if err != nil {
		t.Fatalf("GetParmIDFromName: %v", err)
	}
	if err := s.SetParmStringValue(geo.NodeID, parm, path, 0); err != nil {
		t.Fatalf("SetParmStringValue: %v", err)
	}
}

func TestParseFixture(t *testing.T) {
	geo, err := ParseFixture([]byte(testFixture))
	if err != nil {
		t.Fatalf("ParseFixture: %v", err)
	}
	if geo.Name != "island" || len(geo.Parts) != 2 {
		t.Fatalf("unexpected geometry: %+v", geo)
	}
	v := geo.Parts[0].Volume
	if v.ZLength != 1 || v.TupleSize != 1 || v.Storage != "float" {
		t.Errorf("defaults not applied: %+v", v)
	}
	if v.Rotation != [4]float32{0, 0, 0, 1} {
		t.Errorf("expected identity rotation, got %v", v.Rotation)
	}
}

func TestParseFixture_SchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing parts", "name: x\n"},
		{"unknown part type", "parts:\n  - name: a\n    type: blob\n"},
		{"volume without layout", "parts:\n  - name: a\n    type: volume\n"},
		{"zero resolution", "parts:\n  - name: a\n    type: volume\n    volume: {name: h, x_length: 0, y_length: 1}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFixture([]byte(tt.doc)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "island.yaml")
	if err := os.WriteFile(path, []byte(testFixture), 0644); err != nil {
		t.Fatal(err)
	}
	geo, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if geo.Parts[1].Type != "mesh" {
		t.Errorf("expected mesh part, got %s", geo.Parts[1].Type)
	}
}

func TestCookLifecycle(t *testing.T) {
	geo, err := ParseFixture([]byte(testFixture))
	if err != nil {
		t.Fatal(err)
	}
	s := New()
	s.Register("island.bgeo", geo)

	node, err := s.CreateNode(hapi.InvalidNodeID, "SOP/file", "island", false)
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	setFile(t, s, node, "island.bgeo")

	if err := s.CookNode(node); err != nil {
		t.Fatal(err)
	}
	want := []hapi.State{hapi.StateStartingCook, hapi.StateCooking, hapi.StateCooking, hapi.StateReady}
	for i, w := range want {
		st, err := s.GetStatus(hapi.StatusCookState)
		if err != nil {
			t.Fatal(err)
		}
		if st != w {
			t.Errorf("poll %d: expected %s, got %s", i, w, st)
		}
	}

	info, err := s.GetDisplayGeoInfo(node)
	if err != nil {
		t.Fatal(err)
	}
	if info.PartCount != 2 {
		t.Fatalf("expected 2 parts, got %d", info.PartCount)
	}

	part, err := s.GetPartInfo(info.NodeID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if part.Type != hapi.PartVolume {
		t.Errorf("expected volume part, got %s", part.Type)
	}

	bounds, err := s.GetVolumeBounds(info.NodeID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if bounds.Min != [3]float32{-5, -5, -0.5} || bounds.Max != [3]float32{5, 5, 0.5} {
		t.Errorf("unexpected bounds %+v", bounds)
	}

	samples, err := s.GetHeightFieldData(info.NodeID, 0, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 3 || samples[0] != 1 || samples[2] != 3 {
		t.Errorf("unexpected samples %v", samples)
	}
	if _, err := s.GetHeightFieldData(info.NodeID, 0, 2, 3); !errors.Is(err, hapi.ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}

	ai, err := s.GetAttributeInfo(info.NodeID, 0, "tile", hapi.OwnerPrim)
	if err != nil || !ai.Exists || ai.Storage != hapi.StorageInt {
		t.Fatalf("unexpected tile attribute info %+v, err %v", ai, err)
	}
	ints, err := s.GetAttributeIntData(info.NodeID, 0, "tile", ai)
	if err != nil || len(ints) != 1 || ints[0] != 2 {
		t.Errorf("unexpected tile data %v, err %v", ints, err)
	}

	missing, err := s.GetAttributeInfo(info.NodeID, 0, "nope", hapi.OwnerPrim)
	if err != nil || missing.Exists {
		t.Errorf("expected missing attribute, got %+v err %v", missing, err)
	}
}

func TestCookUnregisteredFile(t *testing.T) {
	s := New()
	s.CookSteps = 0
	node, _ := s.CreateNode(hapi.InvalidNodeID, "SOP/file", "ghost", false)
	setFile(t, s, node, "ghost.bgeo")

	if st := cookToReady(t, s, node); st != hapi.StateReadyWithCookErrors {
		t.Fatalf("expected cook errors, got %s", st)
	}
	msg, err := s.GetStatusString(hapi.StatusCookResult)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(msg, "ghost.bgeo") {
		t.Errorf("expected file name in diagnostics, got %q", msg)
	}
}

func TestFailAndClose(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	s.Fail("CreateNode", boom)
	if _, err := s.CreateNode(hapi.InvalidNodeID, "SOP/file", "a", false); !errors.Is(err, boom) {
		t.Errorf("expected injected failure, got %v", err)
	}
	s.Fail("CreateNode", nil)
	if _, err := s.CreateNode(hapi.InvalidNodeID, "SOP/file", "a", false); err != nil {
		t.Errorf("expected failure cleared, got %v", err)
	}

	s.Close()
	if s.IsValid() {
		t.Error("expected closed session to be invalid")
	}
	if _, err := s.GetGeoInfo(0); !errors.Is(err, hapi.ErrInvalidSession) {
		t.Errorf("expected ErrInvalidSession, got %v", err)
	}
}
