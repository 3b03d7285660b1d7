package data

// FileType is the kind of a filesystem object.
type FileType int

const (
	TypeUnknown FileType = iota
	TypeRegular
	TypeDirectory
	TypeSymlink
	TypeCharDevice
	TypeBlockDevice
	TypeFifo
	TypeSocket
)

func (t FileType) String() string {
	switch t {
	case TypeRegular:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	case TypeCharDevice:
		return "chardev"
	case TypeBlockDevice:
		return "blockdev"
	case TypeFifo:
		return "fifo"
	case TypeSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// IsDir reports whether the type is a directory.
func (t FileType) IsDir() bool {
	return t == TypeDirectory
}

// IsSymlink reports whether the type is a symbolic link.
func (t FileType) IsSymlink() bool {
	return t == TypeSymlink
}

// IsRegular reports whether the type is a regular file.
func (t FileType) IsRegular() bool {
	return t == TypeRegular
}
