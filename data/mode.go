package data

// FileMode holds the permission bits of an object: the rwx triples plus
// setuid, setgid and sticky. The object kind lives in FileType, not here.
type FileMode uint32

const (
	ModeSetuid FileMode = 0o4000
	ModeSetgid FileMode = 0o2000
	ModeSticky FileMode = 0o1000

	// ModePerm masks the Unix permission bits.
	ModePerm FileMode = 0o777
)

// Permission bits of one class triple.
const (
	PermRead  FileMode = 0o4
	PermWrite FileMode = 0o2
	PermExec  FileMode = 0o1
)

// Perm returns the rwx bits.
func (m FileMode) Perm() FileMode {
	return m & ModePerm
}

// OwnerBits returns the owner rwx triple shifted into the low three bits.
func (m FileMode) OwnerBits() FileMode {
	return (m >> 6) & 0o7
}

// GroupBits returns the group rwx triple shifted into the low three bits.
func (m FileMode) GroupBits() FileMode {
	return (m >> 3) & 0o7
}

// OtherBits returns the other rwx triple.
func (m FileMode) OtherBits() FileMode {
	return m & 0o7
}

// AnyExec reports whether any class holds the execute bit.
func (m FileMode) AnyExec() bool {
	return m&0o111 != 0
}

// String renders the permission bits in ls -l order, without the type rune.
func (m FileMode) String() string {
	const rwx = "rwxrwxrwx"
	var buf [9]byte
	for i := range 9 {
		if m&(1<<uint(8-i)) != 0 {
			buf[i] = rwx[i]
		} else {
			buf[i] = '-'
		}
	}
	return string(buf[:])
}
