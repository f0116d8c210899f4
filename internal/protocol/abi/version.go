package abi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// WireSize is the encoded size of a Version: the major/minor word, the
// build word and four namespace words.
const WireSize = 24

// MinorMask covers the 24-bit minor field of the first version word.
const MinorMask = 0x00FFFFFF

var (
	ErrShortVersion = errors.New("abi: short version")
	ErrBadVersion   = errors.New("abi: malformed version string")
)

// Namespace identifies the ABI family. Two peers with different
// namespaces never interoperate.
type Namespace [4]uint32

// HostNamespace is the namespace this host speaks.
var HostNamespace = Namespace{0x5f414351, 0x00004c4d, 0, 0}

// Version is one peer's ABI version.
type Version struct {
	Major     uint8
	Minor     uint32
	Build     uint32
	Namespace Namespace
}

// Word0 packs major and minor the way they travel on the wire.
func (v Version) Word0() uint32 {
	return uint32(v.Major)<<24 | v.Minor&MinorMask
}

// FromWords rebuilds a version from its wire words.
func FromWords(word0, build uint32, ns Namespace) Version {
	return Version{Major: uint8(word0 >> 24), Minor: word0 & MinorMask, Build: build, Namespace: ns}
}

func (v Version) MarshalBinary() ([]byte, error) {
	return v.AppendBinary(make([]byte, 0, WireSize))
}

// AppendBinary appends the 24-byte little-endian encoding of v.
func (v Version) AppendBinary(dst []byte) ([]byte, error) {
	dst = binary.LittleEndian.AppendUint32(dst, v.Word0())
	dst = binary.LittleEndian.AppendUint32(dst, v.Build)
	for _, w := range v.Namespace {
		dst = binary.LittleEndian.AppendUint32(dst, w)
	}
	return dst, nil
}

func (v *Version) UnmarshalBinary(b []byte) error {
	if len(b) < WireSize {
		return fmt.Errorf("%w: %d bytes", ErrShortVersion, len(b))
	}
	var ns Namespace
	for i := range ns {
		ns[i] = binary.LittleEndian.Uint32(b[8+4*i:])
	}
	*v = FromWords(binary.LittleEndian.Uint32(b[0:4]), binary.LittleEndian.Uint32(b[4:8]), ns)
	return nil
}

// SameNamespace reports whether both versions belong to one ABI family.
func (v Version) SameNamespace(o Version) bool {
	return v.Namespace == o.Namespace
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d ns=%08x:%08x:%08x:%08x",
		v.Major, v.Minor, v.Build, v.Namespace[0], v.Namespace[1], v.Namespace[2], v.Namespace[3])
}

// ParseVersion reads "major.minor" or "major.minor.build" in the host
// namespace.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Version{}, fmt.Errorf("%w: %q", ErrBadVersion, s)
	}
	major, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return Version{}, fmt.Errorf("%w: major %q", ErrBadVersion, parts[0])
	}
	minor, err := strconv.ParseUint(parts[1], 10, 24)
	if err != nil {
		return Version{}, fmt.Errorf("%w: minor %q", ErrBadVersion, parts[1])
	}
	v := Version{Major: uint8(major), Minor: uint32(minor), Namespace: HostNamespace}
	if len(parts) == 3 {
		build, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			return Version{}, fmt.Errorf("%w: build %q", ErrBadVersion, parts[2])
		}
		v.Build = uint32(build)
	}
	return v, nil
}
