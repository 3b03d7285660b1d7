package data

import (
	"bytes"

	"github.com/mwantia/guestvfs/data/errors"
)

// Path is a byte-oriented, slash-separated POSIX path as handed over by the
// guest. It is never normalized and never assumed to be valid UTF-8; the only
// structure the VFS reads out of it is the '/' separator.
type Path []byte

// NewPath wraps raw guest bytes without copying or validating them.
// Call Validate before trusting the result.
func NewPath(raw []byte) Path {
	return Path(raw)
}

// PathFromString wraps a Go string as a Path.
func PathFromString(s string) Path {
	return Path(s)
}

// Bytes returns the raw path bytes.
func (p Path) Bytes() []byte {
	return []byte(p)
}

// String renders the path for logs and errors. The bytes are passed through
// unchanged, so the result may not be valid UTF-8.
func (p Path) String() string {
	return string(p)
}

// IsEmpty reports whether the path contains no bytes at all.
func (p Path) IsEmpty() bool {
	return len(p) == 0
}

// IsAbs reports whether the path starts at the filesystem root.
func (p Path) IsAbs() bool {
	return len(p) > 0 && p[0] == '/'
}

// HasTrailingSlash reports whether the path ends in a separator. A trailing
// slash requires the final component to resolve to a directory.
func (p Path) HasTrailingSlash() bool {
	return len(p) > 1 && p[len(p)-1] == '/'
}

// Validate rejects paths longer than maxLen bytes or containing NUL.
// The path is otherwise left exactly as the guest supplied it.
func (p Path) Validate(maxLen int) error {
	if maxLen > 0 && len(p) > maxLen {
		return errors.PathTooLong(len(p), maxLen)
	}

	if bytes.IndexByte(p, 0) >= 0 {
		return errors.InvalidPath(p.Bytes(), "embedded NUL byte")
	}

	return nil
}

// ComponentKind classifies one slash-delimited path segment.
type ComponentKind int

const (
	// ComponentRoot is the leading '/' of an absolute path, emitted once.
	ComponentRoot ComponentKind = iota + 1
	// ComponentCur is a '.' segment.
	ComponentCur
	// ComponentParent is a '..' segment.
	ComponentParent
	// ComponentNormal is any other non-empty segment.
	ComponentNormal
)

// Component is one classified path segment. Name is only set for
// ComponentNormal and aliases the original path bytes.
type Component struct {
	Kind ComponentKind
	Name []byte
}

// Components splits the path into classified segments. The root component is
// emitted once and only for absolute paths; repeated slashes never produce
// empty components.
func (p Path) Components() []Component {
	comps := make([]Component, 0, 8)
	rest := []byte(p)

	if p.IsAbs() {
		comps = append(comps, Component{Kind: ComponentRoot})
	}

	for len(rest) > 0 {
		for len(rest) > 0 && rest[0] == '/' {
			rest = rest[1:]
		}
		if len(rest) == 0 {
			break
		}

		end := bytes.IndexByte(rest, '/')
		var seg []byte
		if end < 0 {
			seg = rest
			rest = nil
		} else {
			seg = rest[:end]
			rest = rest[end:]
		}

		switch {
		case len(seg) == 1 && seg[0] == '.':
			comps = append(comps, Component{Kind: ComponentCur})
		case len(seg) == 2 && seg[0] == '.' && seg[1] == '.':
			comps = append(comps, Component{Kind: ComponentParent})
		default:
			comps = append(comps, Component{Kind: ComponentNormal, Name: seg})
		}
	}

	return comps
}

// ToPathBuf copies the path into an owned buffer.
func (p Path) ToPathBuf() *PathBuf {
	buf := make([]byte, len(p))
	copy(buf, p)
	return &PathBuf{buf: buf}
}

// PathBuf is an owned, growable path buffer.
type PathBuf struct {
	buf []byte
}

// NewPathBuf returns an empty path buffer.
func NewPathBuf() *PathBuf {
	return &PathBuf{}
}

// Path returns a view of the current buffer contents.
func (pb *PathBuf) Path() Path {
	return Path(pb.buf)
}

// Bytes returns the raw buffer contents.
func (pb *PathBuf) Bytes() []byte {
	return pb.buf
}

// Push appends a segment. An absolute segment replaces the buffer outright.
// A relative segment has its leading slashes stripped first, so a crafted
// segment can never silently turn the buffer into a different absolute path,
// and is joined with exactly one separator.
func (pb *PathBuf) Push(seg Path) {
	raw := seg.Bytes()

	if seg.IsAbs() {
		pb.buf = append(pb.buf[:0], raw...)
		return
	}

	for len(raw) > 0 && raw[0] == '/' {
		raw = raw[1:]
	}
	if len(raw) == 0 {
		return
	}

	if len(pb.buf) > 0 && pb.buf[len(pb.buf)-1] != '/' {
		pb.buf = append(pb.buf, '/')
	}
	pb.buf = append(pb.buf, raw...)
}

// Pop removes the last lexical component. It reports false when the buffer is
// empty or holds only the root.
func (pb *PathBuf) Pop() bool {
	end := len(pb.buf)
	for end > 1 && pb.buf[end-1] == '/' {
		end--
	}
	if end == 0 || (end == 1 && pb.buf[0] == '/') {
		return false
	}

	cut := bytes.LastIndexByte(pb.buf[:end], '/')
	switch {
	case cut < 0:
		pb.buf = pb.buf[:0]
	case cut == 0:
		pb.buf = pb.buf[:1]
	default:
		pb.buf = pb.buf[:cut]
	}

	return true
}

// Name is a single validated path component: non-empty, no NUL, no '/'.
// Backends can trust a Name to address exactly one directory entry.
type Name []byte

// NewName validates raw bytes as a single path component.
func NewName(raw []byte) (Name, error) {
	if len(raw) == 0 {
		return nil, errors.InvalidName(raw, "empty name")
	}
	if bytes.IndexByte(raw, 0) >= 0 {
		return nil, errors.InvalidName(raw, "embedded NUL byte")
	}
	if bytes.IndexByte(raw, '/') >= 0 {
		return nil, errors.InvalidName(raw, "embedded separator")
	}

	return Name(raw), nil
}

// NameFromString validates a Go string as a single path component.
func NameFromString(s string) (Name, error) {
	return NewName([]byte(s))
}

// MustName panics on invalid input. For literals in tests and internal names.
func MustName(s string) Name {
	name, err := NameFromString(s)
	if err != nil {
		panic(err)
	}
	return name
}

// Bytes returns the raw name bytes.
func (n Name) Bytes() []byte {
	return []byte(n)
}

// String renders the name; the bytes may not be valid UTF-8.
func (n Name) String() string {
	return string(n)
}

// Clone copies the name into an owned buffer.
func (n Name) Clone() Name {
	clone := make(Name, len(n))
	copy(clone, n)
	return clone
}

// Equal reports byte equality with another name.
func (n Name) Equal(other Name) bool {
	return bytes.Equal(n, other)
}
