package data

// AccessMode carries the open-intent flags of a file open request.
// Flags combine with bitwise OR.
type AccessMode int

const (
	AccessRead   AccessMode = 1 << iota // O_RDONLY: open for reading
	AccessWrite                         // O_WRONLY: open for writing
	AccessAppend                        // O_APPEND: writes go to the end
	AccessCreate                        // O_CREAT:  create if missing
	AccessTrunc                         // O_TRUNC:  truncate on open
	AccessExcl                          // O_EXCL:   fail if it exists (with Create)
)

// HasRead reports whether the mode requests read access.
func (m AccessMode) HasRead() bool {
	return m&AccessRead != 0
}

// HasWrite reports whether the mode requests any form of write access.
func (m AccessMode) HasWrite() bool {
	return m&(AccessWrite|AccessAppend|AccessTrunc) != 0
}

// HasCreate reports whether the mode requests creation.
func (m AccessMode) HasCreate() bool {
	return m&AccessCreate != 0
}

// HasTrunc reports whether the mode requests truncation.
func (m AccessMode) HasTrunc() bool {
	return m&AccessTrunc != 0
}

// HasExcl reports whether creation must be exclusive.
func (m AccessMode) HasExcl() bool {
	return m&AccessExcl != 0
}

// HasAppend reports whether writes are append-only.
func (m AccessMode) HasAppend() bool {
	return m&AccessAppend != 0
}
