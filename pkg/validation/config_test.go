// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"testing"
)

func TestValidateBindAddr(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"ipv6 loopback", "[::1]:8080", false},
		{"ipv6 any", "[::]:80", false},
		{"ipv4", "127.0.0.1:9000", false},
		{"port only", ":8080", false},
		{"ephemeral port", "127.0.0.1:0", false},

		{"empty", "", true},
		{"hostname", "localhost:8080", true},
		{"missing port", "127.0.0.1", true},
		{"unbracketed ipv6", "::1:8080", true},
		{"port out of range", "[::1]:70000", true},
		{"newline injection", "[::1]:8080\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBindAddr(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBindAddr(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
		})
	}
}

func TestValidateCIDRs(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		wantErr bool
	}{
		{"prefixes", []string{"10.0.0.0/8", "fd00::/8"}, false},
		{"bare address", []string{"192.0.2.10"}, false},
		{"empty slice", []string{}, false},
		{"one invalid", []string{"10.0.0.0/8", "not-a-cidr"}, true},
		{"bad mask", []string{"10.0.0.0/33"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCIDRs(tt.entries)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCIDRs(%v) error = %v, wantErr %v", tt.entries, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDataPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative", "board.txt", false},
		{"absolute", "/var/lib/canvas/diffs.bin", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"newline", "board.txt\n", true},
		{"nul", "board\x00.txt", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDataPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDataPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeChoice(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"exact", "json", "json", false},
		{"case folded", " TEXT ", "text", false},
		{"empty allowed", "", "", false},
		{"unknown", "xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeChoice(tt.in, "", "text", "json")
			if (err != nil) != tt.wantErr {
				t.Fatalf("SanitizeChoice(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SanitizeChoice(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
