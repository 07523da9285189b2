package sstable

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// FileName returns the on-disk name for SSTable id. Ids are monotonically
// increasing and never reused (§3), so zero-padded decimal sorts the same
// as numeric order.
func FileName(id uint64) string {
	return fmt.Sprintf("%020d.sst", id)
}

var fileNameRE = regexp.MustCompile(`^(\d{20})\.sst$`)

// TempName returns the in-progress name a writer uses before its atomic
// rename into place (§5: "written as *.tmp then renamed").
func TempName(id uint64) string {
	return FileName(id) + ".tmp"
}

// ParseID extracts the SSTable id from a file's base name, or ok=false if
// the name doesn't match the sstable naming convention.
func ParseID(name string) (id uint64, ok bool) {
	m := fileNameRE.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseUint(m[1], 10, 64)
	return id, err == nil
}

// ListIDs returns every SSTable id present under dir, ascending (oldest
// first). Leftover *.tmp files from a crash mid-write are ignored: the
// engine's startup sees only fully-published tables (§3 invariant 4).
func ListIDs(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []uint64
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		if id, ok := ParseID(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Path joins dir and an SSTable id's published filename.
func Path(dir string, id uint64) string {
	return filepath.Join(dir, FileName(id))
}
