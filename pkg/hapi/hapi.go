// Package hapi defines the narrow session surface used to talk to the
// external procedural engine: node creation, parameters, cooking, cook-state
// polling and geometry/volume/attribute queries.
package hapi

import (
	"errors"
	"fmt"
)

// Session errors.
var (
	ErrInvalidSession    = errors.New("invalid session")
	ErrNodeNotFound      = errors.New("node not found")
	ErrPartNotFound      = errors.New("part not found")
	ErrParmNotFound      = errors.New("parameter not found")
	ErrAttributeNotFound = errors.New("attribute not found")
	ErrNotVolume         = errors.New("part is not a volume")
	ErrOutOfRange        = errors.New("range out of bounds")
)

// NodeID identifies a node inside a session.
type NodeID int32

// InvalidNodeID is the sentinel for "no node".
const InvalidNodeID NodeID = -1

// IsValid reports whether id refers to a node.
func (id NodeID) IsValid() bool {
	return id >= 0
}

// PartID identifies a part within a node's geometry.
type PartID int32

// ParmID identifies a parameter on a node.
type ParmID int32

// State is the engine's cook state.
type State int

const (
	StateReady State = iota
	StateReadyWithFatalErrors
	StateReadyWithCookErrors
	StateStartingCook
	StateCooking
	StateStartingLoad
	StateLoading
)

// MaxReadyState is the last state that means the cook has finished.
// Everything above it is still in progress.
const MaxReadyState = StateReadyWithCookErrors

// InProgress reports whether the engine is still working.
func (s State) InProgress() bool {
	return s > MaxReadyState
}

// String returns a readable state name.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateReadyWithFatalErrors:
		return "ready_with_fatal_errors"
	case StateReadyWithCookErrors:
		return "ready_with_cook_errors"
	case StateStartingCook:
		return "starting_cook"
	case StateCooking:
		return "cooking"
	case StateStartingLoad:
		return "starting_load"
	case StateLoading:
		return "loading"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StatusType selects which status GetStatus/GetStatusString report.
type StatusType int

const (
	StatusCallResult StatusType = iota
	StatusCookResult
	StatusCookState
)

// PartType classifies a geometry part.
type PartType int

const (
	PartInvalid PartType = iota - 1
	PartMesh
	PartCurve
	PartVolume
	PartInstancer
	PartBox
	PartSphere
)

// String returns a readable part type name.
func (t PartType) String() string {
	switch t {
	case PartMesh:
		return "mesh"
	case PartCurve:
		return "curve"
	case PartVolume:
		return "volume"
	case PartInstancer:
		return "instancer"
	case PartBox:
		return "box"
	case PartSphere:
		return "sphere"
	default:
		return "invalid"
	}
}

// StorageType is the element type of volume or attribute data.
type StorageType int

const (
	StorageInvalid StorageType = iota - 1
	StorageInt
	StorageInt64
	StorageFloat
	StorageFloat64
	StorageString
)

// AttributeOwner is the geometry element class an attribute lives on.
type AttributeOwner int

const (
	OwnerVertex AttributeOwner = iota
	OwnerPoint
	OwnerPrim
	OwnerDetail
)

// Transform is a decomposed transform. Rotation is a quaternion (x, y, z, w).
type Transform struct {
	Position [3]float32
	Rotation [4]float32
	Scale    [3]float32
}

// IdentityTransform returns a transform with unit scale and no rotation.
func IdentityTransform() Transform {
	return Transform{
		Rotation: [4]float32{0, 0, 0, 1},
		Scale:    [3]float32{1, 1, 1},
	}
}

// GeoInfo describes the geometry of a node.
type GeoInfo struct {
	NodeID    NodeID
	Name      string
	PartCount int
}

// PartInfo describes one part.
type PartInfo struct {
	ID             PartID
	Name           string
	Type           PartType
	PointCount     int
	PrimitiveCount int
}

// VolumeInfo describes the layout of a volume part.
type VolumeInfo struct {
	Name      string
	XLength   int
	YLength   int
	ZLength   int
	TupleSize int
	Storage   StorageType
	Transform Transform
}

// VolumeBounds is the world-space bounding box of a volume.
type VolumeBounds struct {
	Min    [3]float32
	Max    [3]float32
	Center [3]float32
}

// AttributeInfo describes an attribute on a part.
type AttributeInfo struct {
	Exists    bool
	Owner     AttributeOwner
	Storage   StorageType
	TupleSize int
	Count     int
}

// Session is the engine connection. Implementations are not required to
// support concurrent cook/poll sequences; callers serialize.
type Session interface {
	// IsValid reports whether the session is still usable.
	IsValid() bool

	// CreateNode creates a node of the given operator type under parent.
	CreateNode(parent NodeID, operator, label string, cookOnCreate bool) (NodeID, error)

	// CookNode starts an asynchronous cook of node.
	CookNode(node NodeID) error

	// GetStatus returns the current state for the given status type.
	GetStatus(kind StatusType) (State, error)

	// GetStatusString returns engine diagnostics for the given status type.
	GetStatusString(kind StatusType) (string, error)

	GetDisplayGeoInfo(node NodeID) (GeoInfo, error)
	GetGeoInfo(node NodeID) (GeoInfo, error)
	GetPartInfo(node NodeID, part PartID) (PartInfo, error)
	GetVolumeInfo(node NodeID, part PartID) (VolumeInfo, error)
	GetVolumeBounds(node NodeID, part PartID) (VolumeBounds, error)

	GetParmIDFromName(node NodeID, name string) (ParmID, error)
	SetParmStringValue(node NodeID, parm ParmID, value string, index int) error

	// GetAttributeInfo reports Exists=false (and no error) for a missing attribute.
	GetAttributeInfo(node NodeID, part PartID, name string, owner AttributeOwner) (AttributeInfo, error)
	GetAttributeFloatData(node NodeID, part PartID, name string, info AttributeInfo) ([]float32, error)
	GetAttributeIntData(node NodeID, part PartID, name string, info AttributeInfo) ([]int32, error)
	GetAttributeStringData(node NodeID, part PartID, name string, info AttributeInfo) ([]string, error)

	// GetHeightFieldData returns length samples of a scalar volume starting at start.
	GetHeightFieldData(node NodeID, part PartID, start, length int) ([]float32, error)
}
