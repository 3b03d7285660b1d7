package errors

// InvalidPath rejects a guest path with the reason it failed validation.
func InvalidPath(path []byte, reason string) error {
	return wrap(ErrInvalid, "invalid path %q: %s", path, reason)
}

// InvalidName rejects a single path component.
func InvalidName(name []byte, reason string) error {
	return wrap(ErrInvalid, "invalid name %q: %s", name, reason)
}

// PathTooLong rejects a path exceeding the configured limit.
func PathTooLong(length, limit int) error {
	return wrap(ErrInvalid, "path length %d exceeds limit %d", length, limit)
}

// NameTooLong rejects a component exceeding the configured limit.
func NameTooLong(name []byte, limit int) error {
	return wrap(ErrNameTooLong, "name %q exceeds limit %d", name, limit)
}

// NotFound reports a missing directory entry.
func NotFound(name []byte) error {
	return wrap(ErrNotExist, "no entry %q", name)
}

// SymlinkLoop reports an exhausted symlink expansion budget.
func SymlinkLoop(limit int) error {
	return wrap(ErrLoopDetected, "symlink budget of %d exhausted", limit)
}

// TraverseDenied reports a failed execute check on an intermediate directory.
func TraverseDenied(uid int64) error {
	return wrap(ErrPermission, "uid %d may not traverse directory", uid)
}

// AccessDenied reports a failed permission check on the target object.
func AccessDenied(uid int64, op string) error {
	return wrap(ErrPermission, "uid %d may not %s", uid, op)
}

// ReservedName rejects guest access to overlay bookkeeping names.
func ReservedName(name []byte) error {
	return wrap(ErrPermission, "name %q is reserved", name)
}
