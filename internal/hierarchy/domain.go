package hierarchy

import (
	"errors"
	"time"
)

// Kind classifies a node in the resource tree.
type Kind string

const (
	KindOrganization  Kind = "organization"
	KindCourseFamily  Kind = "course_family"
	KindCourse        Kind = "course"
	KindCourseGroup   Kind = "course_group"
	KindCourseContent Kind = "course_content"
	KindCourseMember  Kind = "course_member"
)

// MaxDepth bounds ancestor chains. Anything deeper is treated as corrupt
// rather than walked further.
const MaxDepth = 32

// Node is one resource in the tree.
type Node struct {
	ID        int64
	Kind      Kind
	Name      string
	ParentID  int64   // zero for a root
	Path      []int64 // ancestor ids, root first, inclusive of ID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Depth is the number of ancestors above the node. A root has depth zero.
func (n Node) Depth() int {
	return len(n.Path) - 1
}

var (
	// ErrNotFound indicates the resource id does not exist.
	ErrNotFound = errors.New("hierarchy: not found")
	// ErrCorrupt indicates a cycle or an inconsistent stored path. This is a
	// configuration fault in the tree data, never a normal deny.
	ErrCorrupt = errors.New("hierarchy: corrupt tree")
)

// ValidKind reports whether k names a known node kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindOrganization, KindCourseFamily, KindCourse, KindCourseGroup, KindCourseContent, KindCourseMember:
		return true
	}
	return false
}
