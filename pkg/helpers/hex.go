// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"encoding/hex"
	"strings"
)

// HexToBytes converts a hex string (with or without 0x prefix) to bytes.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}

// BytesToHex converts bytes to a plain hex string without prefix.
func BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// ShortID truncates an identifier for log output.
func ShortID(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
