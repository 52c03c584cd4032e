package protocol

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
)

// Version is a version number as int
type Version uint32

// The version numbers, making grepping easier
const (
	VersionUnknown Version = math.MaxUint32
	Version1       Version = 0x1
)

// SupportedVersions lists the versions that the server supports
// must be in sorted descending order
var SupportedVersions = []Version{Version1}

// IsValidVersion says if the version is known to this implementation
func IsValidVersion(v Version) bool {
	return IsSupportedVersion(SupportedVersions, v)
}

func (vn Version) String() string {
	//nolint:exhaustive
	switch vn {
	case VersionUnknown:
		return "unknown"
	case Version1:
		return "v1"
	default:
		return fmt.Sprintf("%#x", uint32(vn))
	}
}

// IsSupportedVersion returns true if the server supports this version
func IsSupportedVersion(supported []Version, v Version) bool {
	for _, t := range supported {
		if t == v {
			return true
		}
	}
	return false
}

// ChooseSupportedVersion finds the best version in the overlap of ours and theirs
// ours is a slice of versions that we support, sorted by our preference (descending)
// theirs is a slice of versions offered by the peer. The order does not matter.
// The bool returned indicates if a matching version was found.
func ChooseSupportedVersion(ours, theirs []Version) (Version, bool) {
	for _, ourVer := range ours {
		for _, theirVer := range theirs {
			if ourVer == theirVer {
				return ourVer, true
			}
		}
	}
	return 0, false
}

// generates a greased version number, as imposed by the version negotiation mechanism
func generateReservedVersion(r *rand.Rand) Version {
	b := r.Uint32()
	return Version(b&0xf0f0f0f0 | 0x0a0a0a0a) // set all bits of the greased version mask
}

// GetGreasedVersions adds one reserved version number to a slice of version numbers,
// at a random position. It doesn't modify the supported slice.
func GetGreasedVersions(supported []Version) []Version {
	r := rand.New(rand.NewSource(randomSeed()))
	randPos := r.Intn(len(supported) + 1)
	greased := make([]Version, 0, len(supported)+1)
	greased = append(greased, supported[:randPos]...)
	greased = append(greased, generateReservedVersion(r))
	greased = append(greased, supported[randPos:]...)
	return greased
}
