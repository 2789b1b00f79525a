package scan

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/bamsammich/vigil/internal/record"
)

// parseXattrNames splits a NUL-separated listxattr buffer.
func parseXattrNames(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}

const aclVersion = 2

// decodeACL parses the Linux xattr form of a POSIX ACL: a little-endian
// version word followed by (tag u16, perm u16, id u32) entries.
func decodeACL(b []byte) ([]record.ACLEntry, error) {
	if b == nil {
		return nil, nil
	}
	if len(b) < 4 || (len(b)-4)%8 != 0 {
		return nil, fmt.Errorf("acl: bad length %d", len(b))
	}
	if v := binary.LittleEndian.Uint32(b); v != aclVersion {
		return nil, fmt.Errorf("acl: unsupported version %d", v)
	}
	entries := make([]record.ACLEntry, 0, (len(b)-4)/8)
	for off := 4; off < len(b); off += 8 {
		e := record.ACLEntry{
			Tag:  record.ACLTag(binary.LittleEndian.Uint16(b[off:])),
			Perm: binary.LittleEndian.Uint16(b[off+2:]),
		}
		if e.Tag == record.ACLUser || e.Tag == record.ACLGroup {
			e.ID = binary.LittleEndian.Uint32(b[off+4:])
		}
		entries = append(entries, e)
	}
	return entries, nil
}

const (
	capRevisionMask = 0xFF000000
	capEffective    = 0x000001
	capRevision1    = 0x01000000
	capRevision2    = 0x02000000
	capRevision3    = 0x03000000
)

var capNames = [...]string{
	"chown", "dac_override", "dac_read_search", "fowner", "fsetid", "kill",
	"setgid", "setuid", "setpcap", "linux_immutable", "net_bind_service",
	"net_broadcast", "net_admin", "net_raw", "ipc_lock", "ipc_owner",
	"sys_module", "sys_rawio", "sys_chroot", "sys_ptrace", "sys_pacct",
	"sys_admin", "sys_boot", "sys_nice", "sys_resource", "sys_time",
	"sys_tty_config", "mknod", "lease", "audit_write", "audit_control",
	"setfcap", "mac_override", "mac_admin", "syslog", "wake_alarm",
	"block_suspend", "audit_read", "perfmon", "bpf", "checkpoint_restore",
}

// decodeCaps renders a security.capability value in the cap_to_text style,
// e.g. "cap_net_raw=ep".
func decodeCaps(b []byte) (string, error) {
	if len(b) < 4 {
		return "", fmt.Errorf("capability: bad length %d", len(b))
	}
	magic := binary.LittleEndian.Uint32(b)
	var words int
	switch magic & capRevisionMask {
	case capRevision1:
		words = 1
	case capRevision2, capRevision3:
		words = 2
	default:
		return "", fmt.Errorf("capability: unknown revision %#x", magic&capRevisionMask)
	}
	if len(b) < 4+words*8 {
		return "", fmt.Errorf("capability: bad length %d", len(b))
	}
	var permitted, inheritable uint64
	for i := range words {
		permitted |= uint64(binary.LittleEndian.Uint32(b[4+i*8:])) << (32 * i)
		inheritable |= uint64(binary.LittleEndian.Uint32(b[8+i*8:])) << (32 * i)
	}
	effective := magic&capEffective != 0

	var clauses []string
	if permitted == inheritable && permitted != 0 {
		clauses = append(clauses, capClause(permitted, effective, true, true))
	} else {
		if permitted != 0 {
			clauses = append(clauses, capClause(permitted, effective, true, false))
		}
		if inheritable != 0 {
			clauses = append(clauses, capClause(inheritable, false, false, true))
		}
	}
	s := strings.Join(clauses, " ")
	if magic&capRevisionMask == capRevision3 && len(b) >= 24 {
		s += fmt.Sprintf(" [rootid=%d]", binary.LittleEndian.Uint32(b[20:]))
	}
	return s, nil
}

func capClause(set uint64, e, p, i bool) string {
	var names []string
	for bit := range 64 {
		if set&(1<<bit) == 0 {
			continue
		}
		if bit < len(capNames) {
			names = append(names, "cap_"+capNames[bit])
		} else {
			names = append(names, fmt.Sprintf("cap_%d", bit))
		}
	}
	flags := ""
	if e {
		flags += "e"
	}
	if i {
		flags += "i"
	}
	if p {
		flags += "p"
	}
	return strings.Join(names, ",") + "=" + flags
}
