package domain

import "time"

// NodeKind represents the kind of a node in the remote tree
type NodeKind int

const (
	KindNone NodeKind = iota
	KindFile
	KindDir
)

// String returns the string representation of the kind
func (k NodeKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	default:
		return "none"
	}
}

// Resource describes one file or directory being transferred.
// It is created per transfer call and never persisted.
type Resource struct {
	// Name is the logical name relative to the transfer root
	Name string

	// ContentLength in bytes, -1 when unknown
	ContentLength int64

	// LastModified is the modification time of the transferred content
	LastModified time.Time
}

// NewResource creates a resource with unknown length and time
func NewResource(name string) *Resource {
	return &Resource{Name: name, ContentLength: -1}
}
