//go:build linux

package scan

import (
	"syscall"
	"time"

	"github.com/bamsammich/vigil/internal/record"
)

func fillStat(rec *record.Record, st *syscall.Stat_t) {
	rec.Mode = st.Mode
	rec.UID = st.Uid
	rec.GID = st.Gid
	rec.Inode = st.Ino
	rec.LinkCount = uint64(st.Nlink)
	rec.Size = st.Size
	rec.Blocks = st.Blocks
	rec.Atime = time.Unix(st.Atim.Sec, st.Atim.Nsec)
	rec.Mtime = time.Unix(st.Mtim.Sec, st.Mtim.Nsec)
	rec.Ctime = time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
}
