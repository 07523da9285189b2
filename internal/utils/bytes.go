package utils

import "bytes"

// deep copy of bytes slice
// Depensive Copying: not modify original array
func CopyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}

// CompareKeys orders keys lexicographically over unsigned bytes. A strict
// prefix of a longer key compares less than it, which is exactly what
// bytes.Compare already gives us (ties on the common prefix broken by
// length).
func CompareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}
