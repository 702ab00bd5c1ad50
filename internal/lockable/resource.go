// Package lockable implements the tagged-variant redesign spec.md §9 calls
// for in place of dispatch on the runtime type of Node/Relationship/
// GraphProps/IndexLock.
package lockable

import "fmt"

// Kind tags which entity a Resource locks.
type Kind int

const (
	KindNode Kind = iota
	KindRelationship
	KindGraphProps
	KindIndex
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindRelationship:
		return "relationship"
	case KindGraphProps:
		return "graph"
	case KindIndex:
		return "index"
	default:
		return "unknown"
	}
}

// Resource is a value class used purely as a lock key. Equality is by
// (Kind, payload); two requests naming the same node id produce equal keys.
type Resource struct {
	Kind     Kind
	ID       uint64
	Index    string
	IndexKey string
}

// Node constructs a node lock key.
func Node(id uint64) Resource { return Resource{Kind: KindNode, ID: id} }

// Relationship constructs a relationship lock key.
func Relationship(id uint64) Resource { return Resource{Kind: KindRelationship, ID: id} }

// Graph constructs the singleton graph-properties lock key.
func Graph() Resource { return Resource{Kind: KindGraphProps} }

// Index constructs an index-entry lock key.
func Index(index, key string) Resource { return Resource{Kind: KindIndex, Index: index, IndexKey: key} }

// Equal reports whether r and other name the same resource.
func (r Resource) Equal(other Resource) bool {
	return r.Kind == other.Kind && r.ID == other.ID && r.Index == other.Index && r.IndexKey == other.IndexKey
}

// CacheKey returns a canonical string identity suitable for use as a lock
// table map key.
func (r Resource) CacheKey() string {
	switch r.Kind {
	case KindIndex:
		return fmt.Sprintf("index:%s:%s", r.Index, r.IndexKey)
	case KindGraphProps:
		return "graph"
	default:
		return fmt.Sprintf("%s:%d", r.Kind, r.ID)
	}
}

func (r Resource) String() string {
	switch r.Kind {
	case KindIndex:
		return fmt.Sprintf("Index(%s,%s)", r.Index, r.IndexKey)
	case KindGraphProps:
		return "Graph"
	default:
		return fmt.Sprintf("%s(%d)", r.Kind, r.ID)
	}
}

// Mode is the acquisition mode requested for a Resource.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)
