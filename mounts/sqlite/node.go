package sqlite

import (
	"context"
	"database/sql"
	goerrors "errors"
	"time"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
)

// sqlNode addresses one row in vfs_nodes. The struct carries no cached
// state; every operation reads the database, so concurrent instances of the
// same inode stay coherent.
type sqlNode struct {
	fs  *SqliteFs
	ino data.BackendInodeId
}

type nodeRow struct {
	ftype  data.FileType
	mode   data.FileMode
	uid    int64
	gid    int64
	nlink  uint32
	atime  int64
	mtime  int64
	ctime  int64
	target []byte
}

func (n *sqlNode) row(ctx context.Context) (*nodeRow, error) {
	var r nodeRow
	var ft, mode int64
	err := n.fs.db.QueryRowContext(ctx, `
		SELECT type, mode, uid, gid, nlink, atime, mtime, ctime, target
		FROM vfs_nodes WHERE ino = ?
	`, int64(n.ino)).Scan(&ft, &mode, &r.uid, &r.gid, &r.nlink, &r.atime, &r.mtime, &r.ctime, &r.target)
	if goerrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotExist
	}
	if err != nil {
		return nil, errors.Backend(providerName, err)
	}

	r.ftype = data.FileType(ft)
	r.mode = data.FileMode(mode)
	return &r, nil
}

func (n *sqlNode) childInode(ctx context.Context, q queryer, name data.Name) (data.BackendInodeId, error) {
	var child int64
	err := q.QueryRowContext(ctx, `
		SELECT child FROM vfs_dentries WHERE parent = ? AND name = ?
	`, int64(n.ino), name.Bytes()).Scan(&child)
	if goerrors.Is(err, sql.ErrNoRows) {
		return 0, errors.NotFound(name.Bytes())
	}
	if err != nil {
		return 0, errors.Backend(providerName, err)
	}
	return data.BackendInodeId(child), nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (n *sqlNode) requireDir(ctx context.Context) error {
	r, err := n.row(ctx)
	if err != nil {
		return err
	}
	if !r.ftype.IsDir() {
		return errors.ErrNotDirectory
	}
	return nil
}

func (n *sqlNode) Inode() data.BackendInodeId {
	return n.ino
}

func (n *sqlNode) FileType() data.FileType {
	r, err := n.row(context.Background())
	if err != nil {
		return data.TypeUnknown
	}
	return r.ftype
}

func (n *sqlNode) Metadata(ctx context.Context) (*data.Metadata, error) {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()

	r, err := n.row(ctx)
	if err != nil {
		return nil, err
	}

	var size int64
	switch {
	case r.ftype.IsRegular():
		err := n.fs.db.QueryRowContext(ctx, `
			SELECT length(data) FROM vfs_contents WHERE ino = ?
		`, int64(n.ino)).Scan(&size)
		if err != nil && !goerrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Backend(providerName, err)
		}
	case r.ftype.IsSymlink():
		size = int64(len(r.target))
	}

	return &data.Metadata{
		Inode:      data.Inode{Mount: data.MountNone, Backend: n.ino},
		Type:       r.ftype,
		Mode:       r.mode,
		Nlink:      r.nlink,
		UID:        r.uid,
		GID:        r.gid,
		Size:       size,
		AccessTime: time.Unix(0, r.atime),
		ModifyTime: time.Unix(0, r.mtime),
		ChangeTime: time.Unix(0, r.ctime),
	}, nil
}

func (n *sqlNode) SetMetadata(ctx context.Context, update *data.MetadataUpdate) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	r, err := n.row(ctx)
	if err != nil {
		return err
	}

	if update.Has(data.UpdateMode) {
		r.mode = update.Mode
	}
	if update.Has(data.UpdateUID) {
		r.uid = update.UID
	}
	if update.Has(data.UpdateGID) {
		r.gid = update.GID
	}
	if update.Has(data.UpdateAccessTime) {
		r.atime = update.AccessTime.UnixNano()
	}
	if update.Has(data.UpdateModifyTime) {
		r.mtime = update.ModifyTime.UnixNano()
	}

	_, err = n.fs.db.ExecContext(ctx, `
		UPDATE vfs_nodes SET mode = ?, uid = ?, gid = ?, atime = ?, mtime = ?, ctime = ?
		WHERE ino = ?
	`, uint32(r.mode), r.uid, r.gid, r.atime, r.mtime, time.Now().UnixNano(), int64(n.ino))
	if err != nil {
		return errors.Backend(providerName, err)
	}

	if update.Has(data.UpdateSize) {
		if !r.ftype.IsRegular() {
			return errors.ErrInvalid
		}
		return n.truncateLocked(ctx, update.Size)
	}
	return nil
}

// truncateLocked resizes the content blob. Callers hold the write lock.
func (n *sqlNode) truncateLocked(ctx context.Context, size int64) error {
	content, err := n.readContent(ctx)
	if err != nil {
		return err
	}

	switch {
	case size <= int64(len(content)):
		content = content[:size]
	default:
		grown := make([]byte, size)
		copy(grown, content)
		content = grown
	}
	return n.writeContent(ctx, content)
}

func (n *sqlNode) readContent(ctx context.Context) ([]byte, error) {
	var content []byte
	err := n.fs.db.QueryRowContext(ctx, `
		SELECT data FROM vfs_contents WHERE ino = ?
	`, int64(n.ino)).Scan(&content)
	if goerrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Backend(providerName, err)
	}
	return content, nil
}

func (n *sqlNode) writeContent(ctx context.Context, content []byte) error {
	now := time.Now().UnixNano()
	_, err := n.fs.db.ExecContext(ctx, `
		INSERT INTO vfs_contents (ino, data) VALUES (?, ?)
		ON CONFLICT(ino) DO UPDATE SET data = excluded.data
	`, int64(n.ino), content)
	if err != nil {
		return errors.Backend(providerName, err)
	}

	_, err = n.fs.db.ExecContext(ctx, `
		UPDATE vfs_nodes SET mtime = ?, ctime = ? WHERE ino = ?
	`, now, now, int64(n.ino))
	if err != nil {
		return errors.Backend(providerName, err)
	}
	return nil
}

func (n *sqlNode) Lookup(ctx context.Context, name data.Name) (vfs.FsNode, error) {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()

	if err := n.requireDir(ctx); err != nil {
		return nil, err
	}

	child, err := n.childInode(ctx, n.fs.db, name)
	if err != nil {
		return nil, err
	}
	return &sqlNode{fs: n.fs, ino: child}, nil
}

func (n *sqlNode) CreateFile(ctx context.Context, name data.Name, opts vfs.CreateFileOptions) (vfs.FsNode, error) {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	if err := n.requireDir(ctx); err != nil {
		return nil, err
	}

	if child, err := n.childInode(ctx, n.fs.db, name); err == nil {
		existing := &sqlNode{fs: n.fs, ino: child}
		r, err := existing.row(ctx)
		if err != nil {
			return nil, err
		}
		if opts.Exclusive {
			return nil, errors.ErrExist
		}
		if r.ftype.IsDir() {
			return nil, errors.ErrIsDirectory
		}
		if opts.Truncate {
			if err := existing.truncateLocked(ctx, 0); err != nil {
				return nil, err
			}
		}
		return existing, nil
	} else if !goerrors.Is(err, errors.ErrNotExist) {
		return nil, err
	}

	child, err := n.linkNewNode(ctx, name, data.TypeRegular, opts.Mode, nil)
	if err != nil {
		return nil, err
	}
	return &sqlNode{fs: n.fs, ino: child}, nil
}

func (n *sqlNode) Mkdir(ctx context.Context, name data.Name, opts vfs.MkdirOptions) (vfs.FsNode, error) {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	if err := n.requireDir(ctx); err != nil {
		return nil, err
	}
	if _, err := n.childInode(ctx, n.fs.db, name); err == nil {
		return nil, errors.ErrExist
	} else if !goerrors.Is(err, errors.ErrNotExist) {
		return nil, err
	}

	child, err := n.linkNewNode(ctx, name, data.TypeDirectory, opts.Mode, nil)
	if err != nil {
		return nil, err
	}
	return &sqlNode{fs: n.fs, ino: child}, nil
}

// linkNewNode inserts a node row and its dentry in one transaction. Callers
// hold the write lock and have checked for an existing entry.
func (n *sqlNode) linkNewNode(ctx context.Context, name data.Name, ft data.FileType, mode data.FileMode, target []byte) (data.BackendInodeId, error) {
	tx, err := n.fs.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Backend(providerName, err)
	}
	defer tx.Rollback()

	child, err := n.fs.insertNode(ctx, tx, ft, mode, target)
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vfs_dentries (parent, name, child) VALUES (?, ?, ?)
	`, int64(n.ino), name.Bytes(), int64(child)); err != nil {
		return 0, errors.Backend(providerName, err)
	}

	now := time.Now().UnixNano()
	if _, err := tx.ExecContext(ctx, `
		UPDATE vfs_nodes SET mtime = ?, ctime = ? WHERE ino = ?
	`, now, now, int64(n.ino)); err != nil {
		return 0, errors.Backend(providerName, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Backend(providerName, err)
	}
	return child, nil
}

func (n *sqlNode) Unlink(ctx context.Context, name data.Name) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	if err := n.requireDir(ctx); err != nil {
		return err
	}

	child, err := n.childInode(ctx, n.fs.db, name)
	if err != nil {
		return err
	}

	childNode := &sqlNode{fs: n.fs, ino: child}
	r, err := childNode.row(ctx)
	if err != nil {
		return err
	}
	if r.ftype.IsDir() {
		return errors.ErrIsDirectory
	}

	return n.removeDentry(ctx, name, child, r.nlink)
}

func (n *sqlNode) Rmdir(ctx context.Context, name data.Name) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	if err := n.requireDir(ctx); err != nil {
		return err
	}

	child, err := n.childInode(ctx, n.fs.db, name)
	if err != nil {
		return err
	}

	childNode := &sqlNode{fs: n.fs, ino: child}
	r, err := childNode.row(ctx)
	if err != nil {
		return err
	}
	if !r.ftype.IsDir() {
		return errors.ErrNotDirectory
	}

	var count int64
	if err := n.fs.db.QueryRowContext(ctx, `
		SELECT count(*) FROM vfs_dentries WHERE parent = ?
	`, int64(child)).Scan(&count); err != nil {
		return errors.Backend(providerName, err)
	}
	if count > 0 {
		return errors.ErrNotEmpty
	}

	return n.removeDentry(ctx, name, child, 1)
}

// removeDentry deletes the entry and drops the node once its last link is
// gone. Callers hold the write lock.
func (n *sqlNode) removeDentry(ctx context.Context, name data.Name, child data.BackendInodeId, nlink uint32) error {
	tx, err := n.fs.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Backend(providerName, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM vfs_dentries WHERE parent = ? AND name = ?
	`, int64(n.ino), name.Bytes()); err != nil {
		return errors.Backend(providerName, err)
	}

	if nlink <= 1 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vfs_nodes WHERE ino = ?`, int64(child)); err != nil {
			return errors.Backend(providerName, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM vfs_contents WHERE ino = ?`, int64(child)); err != nil {
			return errors.Backend(providerName, err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			UPDATE vfs_nodes SET nlink = nlink - 1, ctime = ? WHERE ino = ?
		`, time.Now().UnixNano(), int64(child)); err != nil {
			return errors.Backend(providerName, err)
		}
	}

	now := time.Now().UnixNano()
	if _, err := tx.ExecContext(ctx, `
		UPDATE vfs_nodes SET mtime = ?, ctime = ? WHERE ino = ?
	`, now, now, int64(n.ino)); err != nil {
		return errors.Backend(providerName, err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Backend(providerName, err)
	}
	return nil
}

func (n *sqlNode) ReadDir(ctx context.Context, cursor vfs.DirCursor, max int) (*vfs.DirBatch, error) {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()

	if err := n.requireDir(ctx); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 1 << 20
	}

	rows, err := n.fs.db.QueryContext(ctx, `
		SELECT d.name, d.child, nd.type
		FROM vfs_dentries d JOIN vfs_nodes nd ON nd.ino = d.child
		WHERE d.parent = ?
		ORDER BY d.name
		LIMIT ? OFFSET ?
	`, int64(n.ino), max+1, int64(cursor))
	if err != nil {
		return nil, errors.Backend(providerName, err)
	}
	defer rows.Close()

	batch := &vfs.DirBatch{}
	count := 0
	for rows.Next() {
		var name []byte
		var child, ft int64
		if err := rows.Scan(&name, &child, &ft); err != nil {
			return nil, errors.Backend(providerName, err)
		}

		count++
		if count > max {
			batch.More = true
			batch.Next = cursor + vfs.DirCursor(max)
			break
		}
		batch.Entries = append(batch.Entries, vfs.DirEntry{
			Name:  data.Name(name),
			Inode: data.BackendInodeId(child),
			Type:  data.FileType(ft),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Backend(providerName, err)
	}
	return batch, nil
}

func (n *sqlNode) Rename(ctx context.Context, oldName data.Name, newParent vfs.FsNode, newName data.Name) error {
	dst, ok := newParent.(*sqlNode)
	if !ok || dst.fs != n.fs {
		return errors.Unsupported(providerName, "rename across filesystems")
	}

	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	if err := n.requireDir(ctx); err != nil {
		return err
	}
	if err := dst.requireDir(ctx); err != nil {
		return err
	}

	child, err := n.childInode(ctx, n.fs.db, oldName)
	if err != nil {
		return err
	}

	if existing, err := dst.childInode(ctx, n.fs.db, newName); err == nil {
		if existing == child {
			return nil
		}
		existingNode := &sqlNode{fs: n.fs, ino: existing}
		childNode := &sqlNode{fs: n.fs, ino: child}
		er, err := existingNode.row(ctx)
		if err != nil {
			return err
		}
		cr, err := childNode.row(ctx)
		if err != nil {
			return err
		}
		switch {
		case er.ftype.IsDir() && !cr.ftype.IsDir():
			return errors.ErrIsDirectory
		case !er.ftype.IsDir() && cr.ftype.IsDir():
			return errors.ErrNotDirectory
		}
		if er.ftype.IsDir() {
			var count int64
			if err := n.fs.db.QueryRowContext(ctx, `
				SELECT count(*) FROM vfs_dentries WHERE parent = ?
			`, int64(existing)).Scan(&count); err != nil {
				return errors.Backend(providerName, err)
			}
			if count > 0 {
				return errors.ErrNotEmpty
			}
		}
		if err := dst.removeDentry(ctx, newName, existing, er.nlink); err != nil {
			return err
		}
	} else if !goerrors.Is(err, errors.ErrNotExist) {
		return err
	}

	now := time.Now().UnixNano()
	tx, err := n.fs.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Backend(providerName, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE vfs_dentries SET parent = ?, name = ? WHERE parent = ? AND name = ?
	`, int64(dst.ino), newName.Bytes(), int64(n.ino), oldName.Bytes()); err != nil {
		return errors.Backend(providerName, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE vfs_nodes SET mtime = ?, ctime = ? WHERE ino IN (?, ?)
	`, now, now, int64(n.ino), int64(dst.ino)); err != nil {
		return errors.Backend(providerName, err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Backend(providerName, err)
	}
	return nil
}

func (n *sqlNode) Open(ctx context.Context, opts vfs.OpenOptions) (vfs.FsHandle, error) {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()

	r, err := n.row(ctx)
	if err != nil {
		return nil, err
	}
	if r.ftype.IsDir() {
		return nil, errors.ErrIsDirectory
	}
	if !r.ftype.IsRegular() {
		return nil, errors.Unsupported(providerName, "open of special file")
	}

	return &sqlHandle{node: n}, nil
}

func (n *sqlNode) Link(ctx context.Context, existing vfs.FsNode, newName data.Name) error {
	src, ok := existing.(*sqlNode)
	if !ok || src.fs != n.fs {
		return errors.Unsupported(providerName, "link across filesystems")
	}

	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	if err := n.requireDir(ctx); err != nil {
		return err
	}

	r, err := src.row(ctx)
	if err != nil {
		return err
	}
	if r.ftype.IsDir() {
		return errors.ErrIsDirectory
	}
	if _, err := n.childInode(ctx, n.fs.db, newName); err == nil {
		return errors.ErrExist
	} else if !goerrors.Is(err, errors.ErrNotExist) {
		return err
	}

	tx, err := n.fs.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Backend(providerName, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vfs_dentries (parent, name, child) VALUES (?, ?, ?)
	`, int64(n.ino), newName.Bytes(), int64(src.ino)); err != nil {
		return errors.Backend(providerName, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE vfs_nodes SET nlink = nlink + 1, ctime = ? WHERE ino = ?
	`, time.Now().UnixNano(), int64(src.ino)); err != nil {
		return errors.Backend(providerName, err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Backend(providerName, err)
	}
	return nil
}

func (n *sqlNode) Symlink(ctx context.Context, newName data.Name, target data.Path) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	if err := n.requireDir(ctx); err != nil {
		return err
	}
	if _, err := n.childInode(ctx, n.fs.db, newName); err == nil {
		return errors.ErrExist
	} else if !goerrors.Is(err, errors.ErrNotExist) {
		return err
	}

	_, err := n.linkNewNode(ctx, newName, data.TypeSymlink, 0o777, target.Bytes())
	return err
}

func (n *sqlNode) Readlink(ctx context.Context) (data.Path, error) {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()

	r, err := n.row(ctx)
	if err != nil {
		return nil, err
	}
	if !r.ftype.IsSymlink() {
		return nil, errors.ErrInvalid
	}
	return data.NewPath(r.target), nil
}
