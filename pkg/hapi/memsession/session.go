// Package memsession is an in-process hapi.Session that serves geometry
// fixtures instead of talking to a running engine.
package memsession

import (
	"fmt"
	"sync"

	"github.com/Faultbox/hfsync/pkg/hapi"
)

// FileParm is the parameter on display nodes that selects the geometry file.
const FileParm = "file"

// DefaultCookSteps is the number of status polls a cook stays in progress.
const DefaultCookSteps = 3

type node struct {
	id       hapi.NodeID
	parent   hapi.NodeID
	operator string
	label    string
	display  hapi.NodeID
	parms    map[string]string
	geo      *Geometry
}

// Session is a thread-safe in-memory engine session.
type Session struct {
	mu sync.Mutex

	nodes  map[hapi.NodeID]*node
	nextID hapi.NodeID
	files  map[string]*Geometry
	closed bool

	// CookSteps polls pass before a cook finishes. Negative means never.
	CookSteps int

	cooking     *node
	pollsLeft   int
	polled      bool
	cookState   hapi.State
	cookMessage string

	failures map[string]error
	polls    int
}

// New creates an empty session.
func New() *Session {
	return &Session{
		nodes:     make(map[hapi.NodeID]*node),
		files:     make(map[string]*Geometry),
		failures:  make(map[string]error),
		CookSteps: DefaultCookSteps,
		cookState: hapi.StateReady,
	}
}

// Register binds a file path to the geometry a cook of that file produces.
func (s *Session) Register(path string, geo *Geometry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = geo
}

// Fail makes every later call of the named method return err.
// Pass a nil err to clear it.
func (s *Session) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// Close invalidates the session.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Polls returns how many cook-state polls were served.
func (s *Session) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// NodeCount returns the number of created nodes, display nodes included.
func (s *Session) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

func (s *Session) check(method string) error {
	if s.closed {
		return hapi.ErrInvalidSession
	}
	if err, ok := s.failures[method]; ok {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (s *Session) lookup(id hapi.NodeID) (*node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", hapi.ErrNodeNotFound, id)
	}
	return n, nil
}

func (s *Session) part(id hapi.NodeID, pid hapi.PartID) (*Part, error) {
	n, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if n.geo == nil || pid < 0 || int(pid) >= len(n.geo.Parts) {
		return nil, fmt.Errorf("%w: node %d part %d", hapi.ErrPartNotFound, id, pid)
	}
	return &n.geo.Parts[pid], nil
}

// IsValid implements hapi.Session.
func (s *Session) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// CreateNode implements hapi.Session. Every node gets a display child that
// carries the file parameter and receives cooked geometry.
func (s *Session) CreateNode(parent hapi.NodeID, operator, label string, cookOnCreate bool) (hapi.NodeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("CreateNode"); err != nil {
		return hapi.InvalidNodeID, err
	}
	if parent.IsValid() {
		if _, err := s.lookup(parent); err != nil {
			return hapi.InvalidNodeID, err
		}
	}

	top := &node{id: s.nextID, parent: parent, operator: operator, label: label, parms: map[string]string{}}
	s.nextID++
	display := &node{id: s.nextID, parent: top.id, operator: operator, label: label + "_display", parms: map[string]string{FileParm: ""}}
	s.nextID++
	top.display = display.id
	display.display = display.id

	s.nodes[top.id] = top
	s.nodes[display.id] = display
	return top.id, nil
}

// CookNode implements hapi.Session.
func (s *Session) CookNode(id hapi.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("CookNode"); err != nil {
		return err
	}
	n, err := s.lookup(id)
	if err != nil {
		return err
	}
	s.cooking = n
	s.pollsLeft = s.CookSteps
	s.polled = false
	s.cookState = hapi.StateStartingCook
	s.cookMessage = ""
	return nil
}

func (s *Session) finishCook() {
	n := s.cooking
	s.cooking = nil
	display := s.nodes[n.display]
	path := display.parms[FileParm]
	geo, ok := s.files[path]
	if !ok {
		display.geo = &Geometry{}
		s.cookState = hapi.StateReadyWithCookErrors
		s.cookMessage = fmt.Sprintf("Error: unable to read file %q", path)
		return
	}
	display.geo = geo
	s.cookState = hapi.StateReady
}

// GetStatus implements hapi.Session. Each cook-state poll advances an
// in-flight cook by one step.
func (s *Session) GetStatus(kind hapi.StatusType) (hapi.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("GetStatus"); err != nil {
		return hapi.StateReadyWithFatalErrors, err
	}
	if kind != hapi.StatusCookState {
		return s.cookState, nil
	}
	s.polls++
	if s.cooking == nil {
		return s.cookState, nil
	}
	if s.pollsLeft == 0 {
		s.finishCook()
		return s.cookState, nil
	}
	if s.pollsLeft > 0 {
		s.pollsLeft--
	}
	if s.polled {
		s.cookState = hapi.StateCooking
	}
	s.polled = true
	return s.cookState, nil
}

// GetStatusString implements hapi.Session.
func (s *Session) GetStatusString(kind hapi.StatusType) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("GetStatusString"); err != nil {
		return "", err
	}
	return s.cookMessage, nil
}

// GetDisplayGeoInfo implements hapi.Session.
func (s *Session) GetDisplayGeoInfo(id hapi.NodeID) (hapi.GeoInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("GetDisplayGeoInfo"); err != nil {
		return hapi.GeoInfo{}, err
	}
	n, err := s.lookup(id)
	if err != nil {
		return hapi.GeoInfo{}, err
	}
	return s.geoInfo(s.nodes[n.display]), nil
}

// GetGeoInfo implements hapi.Session.
func (s *Session) GetGeoInfo(id hapi.NodeID) (hapi.GeoInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("GetGeoInfo"); err != nil {
		return hapi.GeoInfo{}, err
	}
	n, err := s.lookup(id)
	if err != nil {
		return hapi.GeoInfo{}, err
	}
	return s.geoInfo(n), nil
}

func (s *Session) geoInfo(n *node) hapi.GeoInfo {
	info := hapi.GeoInfo{NodeID: n.id, Name: n.label}
	if n.geo != nil {
		info.PartCount = len(n.geo.Parts)
	}
	return info
}

// GetPartInfo implements hapi.Session.
func (s *Session) GetPartInfo(id hapi.NodeID, pid hapi.PartID) (hapi.PartInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("GetPartInfo"); err != nil {
		return hapi.PartInfo{}, err
	}
	p, err := s.part(id, pid)
	if err != nil {
		return hapi.PartInfo{}, err
	}
	return hapi.PartInfo{
		ID:             pid,
		Name:           p.Name,
		Type:           parsePartType(p.Type),
		PointCount:     p.PointCount,
		PrimitiveCount: p.PrimitiveCount,
	}, nil
}

func (s *Session) volume(id hapi.NodeID, pid hapi.PartID) (*Volume, error) {
	p, err := s.part(id, pid)
	if err != nil {
		return nil, err
	}
	if p.Volume == nil {
		return nil, fmt.Errorf("%w: %s", hapi.ErrNotVolume, p.Name)
	}
	return p.Volume, nil
}

// GetVolumeInfo implements hapi.Session.
func (s *Session) GetVolumeInfo(id hapi.NodeID, pid hapi.PartID) (hapi.VolumeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("GetVolumeInfo"); err != nil {
		return hapi.VolumeInfo{}, err
	}
	v, err := s.volume(id, pid)
	if err != nil {
		return hapi.VolumeInfo{}, err
	}
	return hapi.VolumeInfo{
		Name:      v.Name,
		XLength:   v.XLength,
		YLength:   v.YLength,
		ZLength:   v.ZLength,
		TupleSize: v.TupleSize,
		Storage:   parseStorage(v.Storage),
		Transform: hapi.Transform{
			Position: v.Position,
			Rotation: v.Rotation,
			Scale:    v.Scale,
		},
	}, nil
}

// GetVolumeBounds implements hapi.Session.
func (s *Session) GetVolumeBounds(id hapi.NodeID, pid hapi.PartID) (hapi.VolumeBounds, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("GetVolumeBounds"); err != nil {
		return hapi.VolumeBounds{}, err
	}
	v, err := s.volume(id, pid)
	if err != nil {
		return hapi.VolumeBounds{}, err
	}

	var b hapi.VolumeBounds
	for i := 0; i < 3; i++ {
		b.Min[i] = v.Position[i] - v.Scale[i]
		b.Max[i] = v.Position[i] + v.Scale[i]
	}
	if v.BoundsMin != nil {
		b.Min = *v.BoundsMin
	}
	if v.BoundsMax != nil {
		b.Max = *v.BoundsMax
	}
	for i := 0; i < 3; i++ {
		b.Center[i] = (b.Min[i] + b.Max[i]) / 2
	}
	return b, nil
}

// GetParmIDFromName implements hapi.Session.
func (s *Session) GetParmIDFromName(id hapi.NodeID, name string) (hapi.ParmID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("GetParmIDFromName"); err != nil {
		return -1, err
	}
	n, err := s.lookup(id)
	if err != nil {
		return -1, err
	}
	if _, ok := n.parms[name]; !ok {
		return -1, fmt.Errorf("%w: %s", hapi.ErrParmNotFound, name)
	}
	// A single string parm per node is all fixtures need.
	return 0, nil
}

// SetParmStringValue implements hapi.Session.
func (s *Session) SetParmStringValue(id hapi.NodeID, parm hapi.ParmID, value string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("SetParmStringValue"); err != nil {
		return err
	}
	n, err := s.lookup(id)
	if err != nil {
		return err
	}
	if parm != 0 || index != 0 {
		return fmt.Errorf("%w: id %d index %d", hapi.ErrParmNotFound, parm, index)
	}
	n.parms[FileParm] = value
	return nil
}

func (s *Session) attribute(id hapi.NodeID, pid hapi.PartID, name string, owner hapi.AttributeOwner) (*Attribute, error) {
	p, err := s.part(id, pid)
	if err != nil {
		return nil, err
	}
	for i := range p.Attributes {
		a := &p.Attributes[i]
		if a.Name == name && parseOwner(a.Owner) == owner {
			return a, nil
		}
	}
	return nil, nil
}

// GetAttributeInfo implements hapi.Session.
func (s *Session) GetAttributeInfo(id hapi.NodeID, pid hapi.PartID, name string, owner hapi.AttributeOwner) (hapi.AttributeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("GetAttributeInfo"); err != nil {
		return hapi.AttributeInfo{}, err
	}
	a, err := s.attribute(id, pid, name, owner)
	if err != nil {
		return hapi.AttributeInfo{}, err
	}
	if a == nil {
		return hapi.AttributeInfo{Owner: owner, Storage: hapi.StorageInvalid}, nil
	}

	tuple := a.TupleSize
	if tuple <= 0 {
		tuple = 1
	}
	var n int
	switch a.Storage {
	case "float":
		n = len(a.Floats)
	case "int":
		n = len(a.Ints)
	case "string":
		n = len(a.Strings)
	}
	return hapi.AttributeInfo{
		Exists:    true,
		Owner:     owner,
		Storage:   parseStorage(a.Storage),
		TupleSize: tuple,
		Count:     n / tuple,
	}, nil
}

func (s *Session) attributeData(method string, id hapi.NodeID, pid hapi.PartID, name string, info hapi.AttributeInfo) (*Attribute, error) {
	if err := s.check(method); err != nil {
		return nil, err
	}
	a, err := s.attribute(id, pid, name, info.Owner)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: %s", hapi.ErrAttributeNotFound, name)
	}
	return a, nil
}

// GetAttributeFloatData implements hapi.Session.
func (s *Session) GetAttributeFloatData(id hapi.NodeID, pid hapi.PartID, name string, info hapi.AttributeInfo) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.attributeData("GetAttributeFloatData", id, pid, name, info)
	if err != nil {
		return nil, err
	}
	return append([]float32(nil), a.Floats...), nil
}

// GetAttributeIntData implements hapi.Session.
func (s *Session) GetAttributeIntData(id hapi.NodeID, pid hapi.PartID, name string, info hapi.AttributeInfo) ([]int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.attributeData("GetAttributeIntData", id, pid, name, info)
	if err != nil {
		return nil, err
	}
	return append([]int32(nil), a.Ints...), nil
}

// GetAttributeStringData implements hapi.Session.
func (s *Session) GetAttributeStringData(id hapi.NodeID, pid hapi.PartID, name string, info hapi.AttributeInfo) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.attributeData("GetAttributeStringData", id, pid, name, info)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), a.Strings...), nil
}

// GetHeightFieldData implements hapi.Session.
func (s *Session) GetHeightFieldData(id hapi.NodeID, pid hapi.PartID, start, length int) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("GetHeightFieldData"); err != nil {
		return nil, err
	}
	v, err := s.volume(id, pid)
	if err != nil {
		return nil, err
	}
	if start < 0 || length < 0 || start+length > len(v.Samples) {
		return nil, fmt.Errorf("%w: [%d:%d] of %d", hapi.ErrOutOfRange, start, start+length, len(v.Samples))
	}
	return append([]float32(nil), v.Samples[start:start+length]...), nil
}

var _ hapi.Session = (*Session)(nil)
