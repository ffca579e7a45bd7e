package nvm

import "fmt"

// Capability is a 16-bit token granting access to a syscall category.
// CapAll is a wildcard that satisfies every check.
type Capability uint16

const (
	CapNone      Capability = 0x0000
	CapFSRead    Capability = 0x0001
	CapFSWrite   Capability = 0x0002
	CapFSCreate  Capability = 0x0003
	CapFSDelete  Capability = 0x0004
	CapMemMgmt   Capability = 0x0005
	CapDrvAccess Capability = 0x0006
	CapProcMgmt  Capability = 0x0007
	CapCapsMgmt  Capability = 0x0008

	// Driver groups, reserved for driver-class gating.
	CapDrvGroupStorage Capability = 0x0100
	CapDrvGroupVideo   Capability = 0x0200
	CapDrvGroupNetwork Capability = 0x0400

	CapAll Capability = 0xFFFF
)

// MaxCaps bounds the per-process capability list.
const MaxCaps = 16

var capNames = map[Capability]string{
	CapNone:            "NONE",
	CapFSRead:          "FS_READ",
	CapFSWrite:         "FS_WRITE",
	CapFSCreate:        "FS_CREATE",
	CapFSDelete:        "FS_DELETE",
	CapMemMgmt:         "MEM_MGMT",
	CapDrvAccess:       "DRV_ACCESS",
	CapProcMgmt:        "PROC_MGMT",
	CapCapsMgmt:        "CAPS_MGMT",
	CapDrvGroupStorage: "DRV_GROUP_STORAGE",
	CapDrvGroupVideo:   "DRV_GROUP_VIDEO",
	CapDrvGroupNetwork: "DRV_GROUP_NETWORK",
	CapAll:             "ALL",
}

func (c Capability) String() string {
	if s, ok := capNames[c]; ok {
		return s
	}
	return fmt.Sprintf("0x%04X", uint16(c))
}

// ParseCapability resolves a token name from a config grant list.
func ParseCapability(s string) (Capability, error) {
	for c, name := range capNames {
		if name == s {
			return c, nil
		}
	}
	return CapNone, fmt.Errorf("unknown capability %q", s)
}

// hasCap reports whether the process holds cap or the ALL wildcard.
func (p *Process) hasCap(cap Capability) bool {
	for _, c := range p.caps {
		if c == CapAll || c == cap {
			return true
		}
	}
	return false
}

// addCap is a no-op when the capability is already held (directly or
// through the wildcard) and fails once the list is full.
func (p *Process) addCap(cap Capability) bool {
	if p.hasCap(cap) {
		return true
	}
	if len(p.caps) >= MaxCaps {
		return false
	}
	p.caps = append(p.caps, cap)
	return true
}

// removeCap drops the first matching token, compacting the tail.
func (p *Process) removeCap(cap Capability) bool {
	for i, c := range p.caps {
		if c == cap {
			p.caps = append(p.caps[:i], p.caps[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Process) clearCaps() {
	p.caps = p.caps[:0]
}

// copyCapsFrom replaces the process's list with a copy of src's.
func (p *Process) copyCapsFrom(src *Process) {
	p.caps = append(p.caps[:0], src.caps...)
}
