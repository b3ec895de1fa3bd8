// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for operator-supplied
// settings.
//
// These values come from the environment, YAML files and CLI flags. They end
// up as listen addresses, file paths and proxy trust rules, so they are
// checked before anything is opened.
package validation

import (
	"fmt"
	"net/netip"
	"strings"
)

// ValidateBindAddr checks a "host:port" listen address. The host must be an
// IP literal (IPv6 in brackets) or empty for all interfaces.
//
// Example:
//
//	if err := validation.ValidateBindAddr(cfg.BindAddr); err != nil {
//	    return fmt.Errorf("BIND_ADDR: %w", err)
//	}
func ValidateBindAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("bind address cannot be empty")
	}
	if strings.HasPrefix(addr, ":") {
		_, err := netip.ParseAddrPort("0.0.0.0" + addr)
		if err != nil {
			return fmt.Errorf("invalid bind address %q: %v", addr, err)
		}
		return nil
	}
	if _, err := netip.ParseAddrPort(addr); err != nil {
		return fmt.Errorf("invalid bind address %q (want ip:port or [ipv6]:port): %v", addr, err)
	}
	return nil
}

// ValidateCIDRs checks trusted proxy entries. Each is a CIDR prefix or a
// bare IP address. Returns an error listing every invalid entry.
func ValidateCIDRs(entries []string) error {
	var invalid []string
	for _, e := range entries {
		if _, err := netip.ParsePrefix(e); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(e); err == nil {
			continue
		}
		invalid = append(invalid, e)
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid trusted proxies: %v", invalid)
	}
	return nil
}

// ValidateDataPath checks a data file path. Line terminators and NUL are
// rejected; they are never part of a real path and usually mean a quoting
// mistake in the environment.
func ValidateDataPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsAny(path, "\x00\r\n") {
		return fmt.Errorf("invalid path %q: contains control characters", path)
	}
	return nil
}

// SanitizeChoice normalizes s and checks it against allowed. The empty
// string is accepted when allowed contains it.
//
//	format, err := validation.SanitizeChoice(cfg.LogFormat, "", "text", "json")
func SanitizeChoice(s string, allowed ...string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for _, a := range allowed {
		if normalized == a {
			return normalized, nil
		}
	}
	return "", fmt.Errorf("invalid value %q (allowed: %q)", s, allowed)
}
