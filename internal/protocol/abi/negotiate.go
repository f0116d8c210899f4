package abi

import (
	"github.com/rs/zerolog/log"
)

// Host ABI constants.
const (
	HostMajor uint8  = 1
	HostMinor uint32 = 5
	HostBuild uint32 = 0
)

// Local returns the version this host was compiled against.
func Local() Version {
	return Version{Major: HostMajor, Minor: HostMinor, Build: HostBuild, Namespace: HostNamespace}
}

// WhitelistEntry approves stepping down to Minor for peers of Major in
// Namespace.
type WhitelistEntry struct {
	Major     uint8
	Minor     uint32
	Namespace Namespace
}

// Whitelist is the ordered set of reviewed downgrade steps.
type Whitelist []WhitelistEntry

// DefaultWhitelist lets a host at minor 5 step down to minor 3.
func DefaultWhitelist() Whitelist {
	return Whitelist{
		{Major: HostMajor, Minor: 4, Namespace: HostNamespace},
		{Major: HostMajor, Minor: 3, Namespace: HostNamespace},
	}
}

// Allows reports whether there is an entry for exactly this step target.
func (w Whitelist) Allows(major uint8, minor uint32, ns Namespace) bool {
	for _, e := range w {
		if e.Major == major && e.Minor == minor && e.Namespace == ns {
			return true
		}
	}
	return false
}

type Reason string

const (
	ReasonExact       Reason = "exact"
	ReasonDowngraded  Reason = "downgraded"
	ReasonNamespace   Reason = "namespace_mismatch"
	ReasonMajor       Reason = "major_mismatch"
	ReasonRemoteNewer Reason = "remote_newer"
	ReasonNoPath      Reason = "no_downgrade_path"
)

// Result is the outcome of one negotiation. Effective is the version to
// use for later schema decisions. Reached is the lowest minor the
// whitelist allowed, which differs from Effective only when a downgrade
// was attempted and fell short.
type Result struct {
	Effective  Version
	Reached    Version
	Compatible bool
	Reason     Reason
}

// AreCompatible reports whether two versions match exactly, ignoring the
// build number.
func AreCompatible(local, remote Version) bool {
	return local.SameNamespace(remote) && local.Word0() == remote.Word0()
}

// Negotiate decides whether local can talk to remote. The host only ever
// steps its own minor down, one whitelisted minor at a time.
func Negotiate(local, remote Version, wl Whitelist) Result {
	res := Result{Effective: local, Reached: local}
	switch {
	case !local.SameNamespace(remote):
		res.Reason = ReasonNamespace
	case local.Major != remote.Major:
		res.Reason = ReasonMajor
	case local.Minor < remote.Minor:
		res.Reason = ReasonRemoteNewer
	case local.Minor == remote.Minor:
		res.Compatible = true
		res.Reason = ReasonExact
	default:
		current := local.Minor
		for current > remote.Minor && wl.Allows(local.Major, current-1, local.Namespace) {
			current--
		}
		res.Reached.Minor = current
		if current == remote.Minor {
			res.Effective = res.Reached
			res.Compatible = true
			res.Reason = ReasonDowngraded
		} else {
			res.Reason = ReasonNoPath
		}
	}

	ev := log.Info()
	if !res.Compatible {
		ev = log.Warn()
	}
	ev.Str("local", local.String()).
		Str("remote", remote.String()).
		Uint32("effective_minor", res.Effective.Minor).
		Uint32("reached_minor", res.Reached.Minor).
		Str("reason", string(res.Reason)).
		Bool("compatible", res.Compatible).
		Msg("abi.Negotiate")
	return res
}
