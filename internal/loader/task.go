package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/hfsync/internal/logger"
	"github.com/Faultbox/hfsync/pkg/hapi"
	"github.com/Faultbox/hfsync/pkg/heightfield"
)

// FileOperator is the node type created to read geometry files.
const FileOperator = "SOP/file"

// FileParm is the display node parameter that holds the geometry path.
const FileParm = "file"

// DefaultExtensions are the geometry file suffixes accepted by default.
var DefaultExtensions = []string{".bgeo", ".bgeo.sc"}

// StepKind says what the driver should do after a step.
type StepKind int

const (
	// StepContinue means the task advanced and can step again immediately.
	StepContinue StepKind = iota
	// StepWait means the engine is busy; yield before stepping again.
	StepWait
	// StepDone means the task finished with StatusSuccess.
	StepDone
	// StepFailed means the task finished with StatusError.
	StepFailed
)

// StepResult is the outcome of one Step call. Data is set for Done and Failed.
type StepResult struct {
	Kind StepKind
	Data LoadData
	Err  error
}

type phase int

const (
	phaseValidate phase = iota
	phaseNode
	phaseFileParm
	phaseCook
	phasePoll
	phaseGeometry
	phaseParts
	phaseAssemble
	phaseFinished
)

// Options tune a task.
type Options struct {
	// PollInterval is the wait between cook-state polls. Zero yields the
	// goroutine without sleeping.
	PollInterval time.Duration
	// Extensions lists accepted geometry file suffixes.
	Extensions []string
}

// Task loads heightfield tiles from one geometry file. A task is used once:
// Setup, then Run (or repeated Step calls), then discard.
type Task struct {
	opts Options
	log  *zap.Logger

	filePath string
	handler  Handler
	session  hapi.Session
	nodeID   hapi.NodeID

	phase    phase
	status   atomic.Int32
	logLines []string

	displayNode hapi.NodeID
	partCount   int
	nextPart    int
	meshParts   int
	tiles       map[int]*TerrainTile

	ran     atomic.Bool
	stopped atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
}

// NewTask creates a task with the given options.
func NewTask(opts Options) *Task {
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	return &Task{opts: opts, nodeID: hapi.InvalidNodeID, displayNode: hapi.InvalidNodeID}
}

// Setup configures the task. The session is borrowed: the task never closes
// it. Pass hapi.InvalidNodeID to create a fresh file node, or an existing
// node to reuse it.
func (t *Task) Setup(filePath string, handler Handler, session hapi.Session, existing hapi.NodeID) {
	t.filePath = filePath
	t.handler = handler
	t.session = session
	t.nodeID = existing
	t.phase = phaseValidate
	t.tiles = make(map[int]*TerrainTile)
	t.log = logger.Named("loader").With(zap.String("file", filePath))
}

// Status returns the current load status.
func (t *Task) Status() LoadStatus {
	return LoadStatus(t.status.Load())
}

// FilePath returns the geometry file the task loads.
func (t *Task) FilePath() string {
	return t.filePath
}

// NodeID returns the file node, or hapi.InvalidNodeID before it exists.
func (t *Task) NodeID() hapi.NodeID {
	return t.nodeID
}

func (t *Task) setStatus(to LoadStatus) {
	from := t.Status()
	if !canTransition(from, to) {
		// A programming error; keep the status monotonic regardless.
		t.log.Error("rejected status transition", zap.Stringer("from", from), zap.Stringer("to", to))
		return
	}
	t.status.Store(int32(to))
}

func (t *Task) logf(format string, args ...any) {
	t.logLines = append(t.logLines, fmt.Sprintf(format, args...))
}

// Stop requests cooperative cancellation. Safe from any goroutine.
func (t *Task) Stop() {
	t.stopped.Store(true)
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// StopRequested reports whether Stop was called.
func (t *Task) StopRequested() bool {
	return t.stopped.Load()
}

// Run drives Step until the task finishes, fails or is stopped. It blocks
// the calling goroutine and may only be called once per task.
func (t *Task) Run(ctx context.Context) (LoadData, error) {
	if t.tiles == nil {
		return LoadData{}, ErrNotSetup
	}
	if !t.ran.CompareAndSwap(false, true) {
		return LoadData{}, ErrAlreadyRun
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	if t.stopped.Load() {
		cancel()
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if ctx.Err() != nil {
			return t.stoppedData(), ErrStopped
		}

		res := t.Step()
		switch res.Kind {
		case StepDone:
			return res.Data, nil
		case StepFailed:
			return res.Data, res.Err
		case StepContinue:
			continue
		}

		if t.opts.PollInterval <= 0 {
			runtime.Gosched()
			continue
		}
		if timer == nil {
			timer = time.NewTimer(t.opts.PollInterval)
		} else {
			timer.Reset(t.opts.PollInterval)
		}
		select {
		case <-ctx.Done():
			return t.stoppedData(), ErrStopped
		case <-timer.C:
		}
	}
}

// stoppedData describes a cancelled task: status as it was, no tiles.
func (t *Task) stoppedData() LoadData {
	t.log.Info("load stopped", zap.Stringer("status", t.Status()))
	t.logf("Stopped.")
	return LoadData{
		FilePath: t.filePath,
		Status:   t.Status(),
		Log:      strings.Join(t.logLines, "\n"),
		NodeID:   t.nodeID,
	}
}

// Step advances the task by one unit of work. After Stop it does no more
// work and returns a StepFailed result carrying ErrStopped.
func (t *Task) Step() StepResult {
	if t.tiles == nil {
		return StepResult{Kind: StepFailed, Err: ErrNotSetup}
	}
	if t.stopped.Load() && t.phase != phaseFinished {
		return StepResult{Kind: StepFailed, Err: ErrStopped, Data: t.stoppedData()}
	}
	if t.Status() == StatusNone {
		t.setStatus(StatusStarted)
		t.logf("Loading %s", t.filePath)
	}

	var (
		next StepKind = StepContinue
		err  error
	)
	switch t.phase {
	case phaseValidate:
		err = t.validate()
	case phaseNode:
		err = t.ensureNode()
	case phaseFileParm:
		err = t.setFileParm()
	case phaseCook:
		err = t.startCook()
	case phasePoll:
		next, err = t.poll()
	case phaseGeometry:
		err = t.readGeometry()
	case phaseParts:
		err = t.readNextPart()
	case phaseAssemble:
		err = t.assemble()
	case phaseFinished:
		return StepResult{Kind: StepFailed, Err: ErrAlreadyRun}
	}

	if err != nil {
		return t.fail(err)
	}
	if t.phase == phaseFinished {
		return t.succeed()
	}
	return StepResult{Kind: next}
}

func (t *Task) fail(err error) StepResult {
	t.phase = phaseFinished
	t.tiles = map[int]*TerrainTile{}
	t.setStatus(StatusError)
	t.logf("Error: %v", err)
	t.log.Warn("load failed", zap.Error(err))
	return StepResult{
		Kind: StepFailed,
		Err:  err,
		Data: LoadData{
			FilePath:  t.filePath,
			Status:    StatusError,
			Log:       strings.Join(t.logLines, "\n"),
			NodeID:    t.nodeID,
			MeshParts: t.meshParts,
		},
	}
}

func (t *Task) succeed() StepResult {
	indices := make([]int, 0, len(t.tiles))
	for idx := range t.tiles {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	tiles := make([]*TerrainTile, 0, len(indices))
	for _, idx := range indices {
		tiles = append(tiles, t.tiles[idx])
	}
	t.tiles = map[int]*TerrainTile{}

	data := LoadData{
		FilePath:  t.filePath,
		Status:    StatusSuccess,
		NodeID:    t.nodeID,
		Tiles:     tiles,
		MeshParts: t.meshParts,
	}
	t.logf("Loaded %d tile(s), %d layer(s)", len(tiles), data.LayerCount())
	if t.meshParts > 0 {
		t.logf("Skipped %d mesh part(s)", t.meshParts)
	}
	t.setStatus(StatusSuccess)
	data.Log = strings.Join(t.logLines, "\n")

	t.log.Info("load finished",
		zap.Int32("node", int32(t.nodeID)),
		zap.Int("tiles", len(tiles)),
		zap.Int("layers", data.LayerCount()))
	return StepResult{Kind: StepDone, Data: data}
}

func (t *Task) acceptedExtension() bool {
	lower := strings.ToLower(t.filePath)
	for _, ext := range t.opts.Extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

func (t *Task) validate() error {
	if t.session == nil || !t.session.IsValid() {
		return sessionError("validate", hapi.ErrInvalidSession)
	}
	if t.filePath == "" {
		return inputErrorf("empty file path")
	}
	if !t.acceptedExtension() {
		return inputErrorf("%s: unsupported file type (want %s)", filepath.Base(t.filePath), strings.Join(t.opts.Extensions, ", "))
	}
	info, err := os.Stat(t.filePath)
	if err != nil {
		return &LoadError{Kind: ErrInput, Msg: "file not found", Err: err}
	}
	if info.IsDir() {
		return inputErrorf("%s is a directory", t.filePath)
	}
	t.phase = phaseNode
	return nil
}

func (t *Task) ensureNode() error {
	if t.nodeID.IsValid() {
		t.log.Debug("reusing node", zap.Int32("node", int32(t.nodeID)))
		t.phase = phaseFileParm
		return nil
	}

	label := strings.TrimSuffix(filepath.Base(t.filePath), filepath.Ext(t.filePath))
	label = strings.TrimSuffix(label, ".bgeo")
	id, err := t.session.CreateNode(hapi.InvalidNodeID, FileOperator, label, false)
	if err != nil {
		return sessionError("CreateNode", err)
	}
	t.nodeID = id
	t.logf("Created node %d", id)
	t.log.Debug("created node", zap.Int32("node", int32(id)))
	t.phase = phaseFileParm
	return nil
}

func (t *Task) setFileParm() error {
	geo, err := t.session.GetDisplayGeoInfo(t.nodeID)
	if err != nil {
		return sessionError("GetDisplayGeoInfo", err)
	}
	t.displayNode = geo.NodeID

	parm, err := t.session.GetParmIDFromName(t.displayNode, FileParm)
	if err != nil {
		return sessionError("GetParmIDFromName", err)
	}
	if err := t.session.SetParmStringValue(t.displayNode, parm, t.filePath, 0); err != nil {
		return sessionError("SetParmStringValue", err)
	}
	t.phase = phaseCook
	return nil
}

func (t *Task) startCook() error {
	if err := t.session.CookNode(t.nodeID); err != nil {
		return sessionError("CookNode", err)
	}
	t.log.Debug("cook started", zap.Int32("node", int32(t.nodeID)))
	t.phase = phasePoll
	return nil
}

func (t *Task) poll() (StepKind, error) {
	state, err := t.session.GetStatus(hapi.StatusCookState)
	if err != nil {
		return StepFailed, sessionError("GetStatus", err)
	}
	if state.InProgress() {
		return StepWait, nil
	}

	switch state {
	case hapi.StateReady:
		t.logf("Cooked node %d", t.nodeID)
		t.phase = phaseGeometry
		return StepContinue, nil
	case hapi.StateReadyWithCookErrors:
		return StepFailed, &LoadError{Kind: ErrCook, Msg: t.cookDiagnostics()}
	default:
		return StepFailed, &LoadError{Kind: ErrCook, Msg: "fatal: " + t.cookDiagnostics()}
	}
}

// cookDiagnostics returns the engine's cook result text verbatim.
func (t *Task) cookDiagnostics() string {
	msg, err := t.session.GetStatusString(hapi.StatusCookResult)
	if err != nil {
		return fmt.Sprintf("(diagnostics unavailable: %v)", err)
	}
	if msg == "" {
		return "(no diagnostics)"
	}
	return msg
}

func (t *Task) readGeometry() error {
	geo, err := t.session.GetDisplayGeoInfo(t.nodeID)
	if err != nil {
		return sessionError("GetDisplayGeoInfo", err)
	}
	t.displayNode = geo.NodeID
	t.partCount = geo.PartCount
	t.nextPart = 0
	t.phase = phaseParts
	if t.partCount == 0 {
		t.phase = phaseAssemble
	}
	return nil
}

func (t *Task) readNextPart() error {
	pid := hapi.PartID(t.nextPart)
	t.nextPart++
	if t.nextPart >= t.partCount {
		t.phase = phaseAssemble
	}

	part, err := t.session.GetPartInfo(t.displayNode, pid)
	if err != nil {
		return sessionError("GetPartInfo", err)
	}
	switch part.Type {
	case hapi.PartVolume:
		return t.readVolume(part)
	case hapi.PartMesh:
		// Mesh conversion is not part of this pipeline yet.
		t.meshParts++
		t.log.Debug("skipping mesh part", zap.String("part", part.Name))
	default:
		t.log.Debug("ignoring part", zap.String("part", part.Name), zap.Stringer("type", part.Type))
	}
	return nil
}

// checkVolume rejects layouts the terrain conversion can't index.
func checkVolume(part hapi.PartInfo, v hapi.VolumeInfo) error {
	switch {
	case v.TupleSize != 1:
		return shapeErrorf("%s: tuple size %d, only scalar volumes are supported", part.Name, v.TupleSize)
	case v.ZLength != 1:
		return shapeErrorf("%s: depth %d, only 2D volumes are supported", part.Name, v.ZLength)
	case v.Storage != hapi.StorageFloat:
		return shapeErrorf("%s: storage %d, only float volumes are supported", part.Name, v.Storage)
	case v.XLength <= 0 || v.XLength != v.YLength:
		return shapeErrorf("%s: %dx%d, only square volumes are supported", part.Name, v.XLength, v.YLength)
	}
	return nil
}

func (t *Task) readVolume(part hapi.PartInfo) error {
	node, pid := t.displayNode, part.ID

	vinfo, err := t.session.GetVolumeInfo(node, pid)
	if err != nil {
		return sessionError("GetVolumeInfo", err)
	}
	if err := checkVolume(part, vinfo); err != nil {
		return err
	}
	bounds, err := t.session.GetVolumeBounds(node, pid)
	if err != nil {
		return sessionError("GetVolumeBounds", err)
	}

	name := vinfo.Name
	if name == "" {
		name = part.Name
	}
	layer := newLayer(name, pid)
	layer.Resolution = vinfo.XLength
	layer.Transform = vinfo.Transform
	layer.Bounds = bounds

	attrs := attrReader{session: t.session, node: node, part: pid}
	if err := readLayerAttributes(attrs, layer); err != nil {
		return err
	}

	n := layer.Resolution * layer.Resolution
	samples, err := t.session.GetHeightFieldData(node, pid, 0, n)
	if err != nil {
		return sessionError("GetHeightFieldData", err)
	}
	if len(samples) != n {
		return shapeErrorf("%s: got %d samples, want %d", name, len(samples), n)
	}
	layer.Heights = samples
	layer.MinHeight, layer.MaxHeight = heightfield.Range(samples)

	tileIndex, _, err := attrs.integer(AttrTile)
	if err != nil {
		return err
	}

	tile, ok := t.tiles[tileIndex]
	if !ok {
		tile = &TerrainTile{Index: tileIndex}
		t.tiles[tileIndex] = tile
	}
	tile.Layers = heightfield.InsertLayer(tile.Layers, layer, layer.IsHeight())

	t.log.Debug("read layer",
		zap.String("layer", name),
		zap.Int("tile", tileIndex),
		zap.Int("resolution", layer.Resolution),
		zap.Float32("min", layer.MinHeight),
		zap.Float32("max", layer.MaxHeight))
	return nil
}

func (t *Task) assemble() error {
	for _, tile := range t.tiles {
		if err := assembleTile(tile); err != nil {
			return err
		}
	}
	t.phase = phaseFinished
	return nil
}

// assembleTile derives grids, size and placement from the tile's layers.
func assembleTile(tile *TerrainTile) error {
	height := tile.HeightLayer()
	if height == nil {
		return nil
	}
	res := height.Resolution
	for _, l := range tile.Layers[1:] {
		if l.Resolution != res {
			return shapeErrorf("tile %d: layer %s is %d, height layer is %d", tile.Index, l.Name, l.Resolution, res)
		}
	}

	grid, err := heightfield.HeightGrid(height.Heights, res, height.MinHeight, height.MaxHeight)
	if err != nil {
		return shapeErrorf("tile %d: %v", tile.Index, err)
	}

	splatLayers := tile.SplatLayers()
	samples := make([][]float32, len(splatLayers))
	for i, l := range splatLayers {
		samples[i] = l.Heights
	}
	splats, err := heightfield.SplatGrid(samples, res)
	if err != nil {
		return shapeErrorf("tile %d: %v", tile.Index, err)
	}

	tile.Resolution = res
	tile.MinHeight = height.MinHeight
	tile.MaxHeight = height.MaxHeight
	tile.Size = heightfield.TerrainSize(res, height.Transform.Scale, height.MinHeight, height.MaxHeight)
	tile.Position = heightfield.Placement(height.Bounds.Min, height.Bounds.Max, height.MinHeight)
	tile.Heights = grid
	tile.Splats = splats
	tile.TerrainDataFile = height.TerrainDataFile
	return nil
}

// IsStopped reports whether err is a cancellation rather than a failure.
func IsStopped(err error) bool {
	return errors.Is(err, ErrStopped)
}
