package metadb

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/cuckoofs/cuckoo/cerr"
	"github.com/cuckoofs/cuckoo/meta"
)

// dispatch runs the prepared statement for kind against conn and fills item
// with the outcome, returning the code for the whole operation. pgx caches
// each distinct SQL text as a server-side prepared statement automatically
// (the "prepared SQL" of spec §4.4), so handlers just call conn.Query/Exec
// with the literal statement text.
func dispatch(ctx context.Context, conn *pgx.Conn, kind meta.ServiceKind, item *meta.MetaProcessInfo) cerr.Code {
	switch kind {
	case meta.MKDIR:
		return mkdir(ctx, conn, item)
	case meta.CREATE:
		return create(ctx, conn, item)
	case meta.STAT, meta.OPEN:
		return stat(ctx, conn, item)
	case meta.CLOSE:
		return closeFile(ctx, conn, item)
	case meta.UNLINK:
		return unlink(ctx, conn, item)
	case meta.READDIR:
		return readdir(ctx, conn, item)
	case meta.OPENDIR:
		return opendir(ctx, conn, item)
	case meta.RMDIR:
		return rmdir(ctx, conn, item)
	case meta.RENAME, meta.RENAME_SUB_RENAME_LOCALLY, meta.RENAME_SUB_LINK_REMOTE, meta.RENAME_SUB_UNLINK_REMOTE:
		return rename(ctx, conn, item)
	case meta.UTIMENS:
		return utimens(ctx, conn, item)
	case meta.CHOWN:
		return chown(ctx, conn, item)
	case meta.CHMOD:
		return chmod(ctx, conn, item)
	case meta.PLAIN_COMMAND:
		return cerr.SUCCESS
	default:
		return cerr.PROGRAM_ERROR
	}
}

const insertEntry = `
INSERT INTO meta_entries (path, inode_id, mode, is_dir, ctime, mtime, atime)
VALUES ($1, nextval('meta_inode_seq'), $2, $3, $4, $4, $4)
ON CONFLICT (path) DO NOTHING
RETURNING inode_id`

func mkdir(ctx context.Context, conn *pgx.Conn, item *meta.MetaProcessInfo) cerr.Code {
	var inode uint64
	err := conn.QueryRow(ctx, insertEntry, item.Path, item.Mode|dirModeBit, true, item.Mtim).Scan(&inode)
	if err == pgx.ErrNoRows {
		return cerr.FILE_EXISTS
	}
	if err != nil {
		return cerr.IO_ERROR
	}
	item.InodeID = inode
	return cerr.SUCCESS
}

func create(ctx context.Context, conn *pgx.Conn, item *meta.MetaProcessInfo) cerr.Code {
	var inode uint64
	err := conn.QueryRow(ctx, insertEntry, item.Path, item.Mode, false, item.Mtim).Scan(&inode)
	if err == pgx.ErrNoRows {
		return cerr.FILE_EXISTS
	}
	if err != nil {
		return cerr.IO_ERROR
	}
	item.St.Ino = inode
	item.InodeID = inode
	return cerr.SUCCESS
}

const selectEntry = `
SELECT inode_id, mode, size, atime, mtime, ctime, uid, gid, nlink, node_id
FROM meta_entries WHERE path = $1`

func stat(ctx context.Context, conn *pgx.Conn, item *meta.MetaProcessInfo) cerr.Code {
	row := conn.QueryRow(ctx, selectEntry, item.Path)
	var st meta.Stat
	var nodeID int32
	err := row.Scan(&st.Ino, &st.Mode, &st.Size, &st.Atim, &st.Mtim, &st.Ctim, &st.Uid, &st.Gid, &st.Nlink, &nodeID)
	if err == pgx.ErrNoRows {
		return cerr.NOT_FOUND
	}
	if err != nil {
		return cerr.IO_ERROR
	}
	item.St = st
	item.NodeID = nodeID
	return cerr.SUCCESS
}

func closeFile(ctx context.Context, conn *pgx.Conn, item *meta.MetaProcessInfo) cerr.Code {
	tag, err := conn.Exec(ctx,
		`UPDATE meta_entries SET size = $2, mtime = $3, node_id = $4 WHERE path = $1`,
		item.Path, item.St.Size, item.Mtim, item.NodeID)
	if err != nil {
		return cerr.IO_ERROR
	}
	if tag.RowsAffected() == 0 {
		return cerr.NOT_FOUND
	}
	return cerr.SUCCESS
}

func unlink(ctx context.Context, conn *pgx.Conn, item *meta.MetaProcessInfo) cerr.Code {
	row := conn.QueryRow(ctx,
		`DELETE FROM meta_entries WHERE path = $1 AND NOT is_dir RETURNING inode_id, size, node_id`, item.Path)
	err := row.Scan(&item.InodeID, &item.St.Size, &item.NodeID)
	if err == pgx.ErrNoRows {
		return cerr.NOT_FOUND
	}
	if err != nil {
		return cerr.IO_ERROR
	}
	return cerr.SUCCESS
}

const readdirPageSize = 256

func readdir(ctx context.Context, conn *pgx.Conn, item *meta.MetaProcessInfo) cerr.Code {
	prefix := strings.TrimSuffix(item.Path, "/") + "/"
	cursor := prefix + item.LastFileName
	rows, err := conn.Query(ctx,
		`SELECT path, mode FROM meta_entries
		 WHERE path LIKE $1 || '%' AND path > $2 AND path NOT LIKE $1 || '%/%'
		 ORDER BY path LIMIT $3`,
		prefix, cursor, readdirPageSize+1)
	if err != nil {
		return cerr.IO_ERROR
	}
	defer rows.Close()

	var entries []meta.DirEntry
	for rows.Next() {
		var path string
		var mode uint32
		if err := rows.Scan(&path, &mode); err != nil {
			return cerr.IO_ERROR
		}
		entries = append(entries, meta.DirEntry{Name: strings.TrimPrefix(path, prefix), Mode: mode})
	}
	if rows.Err() != nil {
		return cerr.IO_ERROR
	}

	if len(entries) > readdirPageSize {
		item.LastFileName = entries[readdirPageSize-1].Name
		entries = entries[:readdirPageSize]
	} else {
		item.LastFileName = ""
	}
	item.Entries = entries
	return cerr.SUCCESS
}

func opendir(ctx context.Context, conn *pgx.Conn, item *meta.MetaProcessInfo) cerr.Code {
	row := conn.QueryRow(ctx, `SELECT inode_id FROM meta_entries WHERE path = $1 AND is_dir`, item.Path)
	if err := row.Scan(&item.InodeID); err != nil {
		if err == pgx.ErrNoRows {
			return cerr.NOT_FOUND
		}
		return cerr.IO_ERROR
	}
	return cerr.SUCCESS
}

func rmdir(ctx context.Context, conn *pgx.Conn, item *meta.MetaProcessInfo) cerr.Code {
	prefix := strings.TrimSuffix(item.Path, "/") + "/%"
	var childCount int
	if err := conn.QueryRow(ctx, `SELECT count(*) FROM meta_entries WHERE path LIKE $1`, prefix).Scan(&childCount); err != nil {
		return cerr.IO_ERROR
	}
	if childCount > 0 {
		return cerr.PERMISSION_DENIED
	}
	tag, err := conn.Exec(ctx, `DELETE FROM meta_entries WHERE path = $1 AND is_dir`, item.Path)
	if err != nil {
		return cerr.IO_ERROR
	}
	if tag.RowsAffected() == 0 {
		return cerr.NOT_FOUND
	}
	return cerr.SUCCESS
}

func rename(ctx context.Context, conn *pgx.Conn, item *meta.MetaProcessInfo) cerr.Code {
	tag, err := conn.Exec(ctx, `UPDATE meta_entries SET path = $2 WHERE path = $1`, item.Path, item.DstPath)
	if err != nil {
		return cerr.IO_ERROR
	}
	if tag.RowsAffected() == 0 {
		return cerr.NOT_FOUND
	}
	row := conn.QueryRow(ctx, selectEntry, item.DstPath)
	_ = row.Scan(&item.St.Ino, &item.St.Mode, &item.St.Size, &item.St.Atim, &item.St.Mtim, &item.St.Ctim,
		&item.St.Uid, &item.St.Gid, &item.St.Nlink, &item.NodeID)
	return cerr.SUCCESS
}

func utimens(ctx context.Context, conn *pgx.Conn, item *meta.MetaProcessInfo) cerr.Code {
	tag, err := conn.Exec(ctx, `UPDATE meta_entries SET atime = $2, mtime = $3 WHERE path = $1`,
		item.Path, item.Atim, item.Mtim)
	return rowsAffectedCode(tag.RowsAffected(), err)
}

func chown(ctx context.Context, conn *pgx.Conn, item *meta.MetaProcessInfo) cerr.Code {
	tag, err := conn.Exec(ctx, `UPDATE meta_entries SET uid = $2, gid = $3 WHERE path = $1`,
		item.Path, item.Uid, item.Gid)
	return rowsAffectedCode(tag.RowsAffected(), err)
}

func chmod(ctx context.Context, conn *pgx.Conn, item *meta.MetaProcessInfo) cerr.Code {
	tag, err := conn.Exec(ctx, `UPDATE meta_entries SET mode = $2 WHERE path = $1`, item.Path, item.Mode)
	return rowsAffectedCode(tag.RowsAffected(), err)
}

func rowsAffectedCode(n int64, err error) cerr.Code {
	if err != nil {
		return cerr.IO_ERROR
	}
	if n == 0 {
		return cerr.NOT_FOUND
	}
	return cerr.SUCCESS
}

// dirModeBit is OR'd into a directory's stored mode so STAT/READDIR callers
// can tell directories apart from files without a second column round trip
// (S_IFDIR, reused from POSIX rather than invented).
const dirModeBit = 0o040000
