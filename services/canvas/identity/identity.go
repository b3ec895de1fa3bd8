// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identity derives rate-limit bucket keys from caller addresses.
//
// # Description
//
// Globally routable IPv6 allocations typically hand a /64 (or more) to a
// single subscriber. Keying the cooldown on the full address would let one
// subscriber rotate through its own prefix to dodge the limit, so global
// IPv6 addresses are collapsed to their /64 network. Everything else
// (IPv4, loopback, private, link-local, documentation ranges) is keyed on
// the exact address.
//
// # Classification
//
// IsGlobalIPv6 enumerates the IANA special-purpose registry blocks by hand
// rather than relying on net/netip helpers, so the bucket boundaries do not
// move when the standard library's notion of "global" changes.
package identity

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// ErrBadAddress is returned when a transport address cannot be parsed.
var ErrBadAddress = errors.New("unparseable caller address")

// Resolve returns the rate-limit bucket key for addr.
//
// # Description
//
// Global IPv6 addresses keep their top four 16-bit segments and have the
// remaining 64 bits zeroed. IPv4, IPv4-mapped and non-global IPv6
// addresses are returned unchanged. Any zone is dropped.
//
// # Examples
//
//	Resolve(netip.MustParseAddr("2a01:4f8:1:2:aaaa::1")) // 2a01:4f8:1:2::
//	Resolve(netip.MustParseAddr("fe80::1234"))          // fe80::1234
//	Resolve(netip.MustParseAddr("203.0.113.9"))         // 203.0.113.9
func Resolve(addr netip.Addr) netip.Addr {
	addr = addr.WithZone("")
	if addr.Is6() && IsGlobalIPv6(addr) {
		return maskHostIdentifier(addr)
	}
	return addr
}

// maskHostIdentifier zeroes the interface identifier (low 64 bits).
func maskHostIdentifier(addr netip.Addr) netip.Addr {
	b := addr.As16()
	for i := 8; i < 16; i++ {
		b[i] = 0
	}
	return netip.AddrFrom16(b)
}

// segments splits an IPv6 address into eight 16-bit groups.
func segments(addr netip.Addr) [8]uint16 {
	b := addr.As16()
	var s [8]uint16
	for i := range s {
		s[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return s
}

// IsGlobalIPv6 reports whether addr is a globally reachable unicast IPv6
// address. IPv4 addresses are never global by this definition.
//
// # Excluded blocks
//
//   - ::                unspecified
//   - ::1               loopback
//   - ::ffff:0:0/96     IPv4-mapped
//   - 64:ff9b:1::/48    IPv4-IPv6 translation (local use)
//   - 100::/64          discard-only
//   - 2001::/23         IETF protocol assignments, except the global
//     2001:1::1 (PCP anycast), 2001:1::2 (TURN anycast), 2001:3::/32 (AMT),
//     2001:4:112::/48 (AS112-v6) and 2001:20::/28, 2001:30::/28 (ORCHIDv2,
//     drone DETs)
//   - 2002::/16         6to4
//   - 2001:db8::/32     documentation
//   - fc00::/7          unique local
//   - fe80::/10         link-local unicast
func IsGlobalIPv6(addr netip.Addr) bool {
	if !addr.Is6() {
		return false
	}
	s := segments(addr)

	switch {
	case s == [8]uint16{}:
		return false
	case s == [8]uint16{0, 0, 0, 0, 0, 0, 0, 1}:
		return false
	case s[0] == 0 && s[1] == 0 && s[2] == 0 && s[3] == 0 && s[4] == 0 && s[5] == 0xffff:
		return false
	case s[0] == 0x64 && s[1] == 0xff9b && s[2] == 1:
		return false
	case s[0] == 0x100 && s[1] == 0 && s[2] == 0 && s[3] == 0:
		return false
	case s[0] == 0x2001 && s[1] < 0x200 && !isProtocolAssignmentGlobal(s):
		return false
	case s[0] == 0x2002:
		return false
	case s[0] == 0x2001 && s[1] == 0xdb8:
		return false
	case s[0]&0xfe00 == 0xfc00:
		return false
	case s[0]&0xffc0 == 0xfe80:
		return false
	}
	return true
}

// isProtocolAssignmentGlobal lists the 2001::/23 carve-outs that IANA marks
// as globally reachable.
func isProtocolAssignmentGlobal(s [8]uint16) bool {
	anycastPrefix := s[0] == 0x2001 && s[1] == 1 && s[2] == 0 && s[3] == 0 &&
		s[4] == 0 && s[5] == 0 && s[6] == 0
	switch {
	case anycastPrefix && (s[7] == 1 || s[7] == 2):
		return true
	case s[1] == 3:
		return true
	case s[1] == 4 && s[2] == 0x112:
		return true
	case s[1] >= 0x20 && s[1] <= 0x3f:
		return true
	}
	return false
}

// FromRemoteAddr parses a transport address such as http.Request.RemoteAddr
// ("203.0.113.9:51234", "[2001:db8::1]:443") or a bare host. IPv6 zones
// are stripped.
func FromRemoteAddr(remote string) (netip.Addr, error) {
	remote = strings.TrimSpace(remote)
	if remote == "" {
		return netip.Addr{}, fmt.Errorf("%w: empty", ErrBadAddress)
	}
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().WithZone(""), nil
	}
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrBadAddress, remote)
	}
	return addr.WithZone(""), nil
}
