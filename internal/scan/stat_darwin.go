//go:build darwin

package scan

import (
	"syscall"
	"time"

	"github.com/bamsammich/vigil/internal/record"
)

func fillStat(rec *record.Record, st *syscall.Stat_t) {
	rec.Mode = uint32(st.Mode)
	rec.UID = st.Uid
	rec.GID = st.Gid
	rec.Inode = st.Ino
	rec.LinkCount = uint64(st.Nlink)
	rec.Size = st.Size
	rec.Blocks = st.Blocks
	rec.Atime = time.Unix(st.Atimespec.Sec, st.Atimespec.Nsec)
	rec.Mtime = time.Unix(st.Mtimespec.Sec, st.Mtimespec.Nsec)
	rec.Ctime = time.Unix(st.Ctimespec.Sec, st.Ctimespec.Nsec)
}
