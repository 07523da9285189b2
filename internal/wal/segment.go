package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/siltkv/siltkv/internal/storageerr"
)

// segmentName returns the filename for a segment created at createdUnixNano
// whose first record has sequence number startSeq. Encoding both in the
// name lets segments sort chronologically by filename alone (§4.2 "segment
// names encode the creation timestamp and starting sequence").
func segmentName(createdUnixNano int64, startSeq uint64) string {
	return fmt.Sprintf("wal-%020d-%020d.log", createdUnixNano, startSeq)
}

var segmentNameRE = regexp.MustCompile(`^wal-(\d{20})-(\d{20})\.log$`)

type segmentInfo struct {
	path      string
	createdAt int64
	startSeq  uint64
}

// listSegments returns every WAL segment file in dir, sorted ascending by
// starting sequence (== chronological order).
func listSegments(dir string) ([]segmentInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var segs []segmentInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := segmentNameRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		createdAt, _ := strconv.ParseInt(m[1], 10, 64)
		startSeq, _ := strconv.ParseUint(m[2], 10, 64)
		segs = append(segs, segmentInfo{
			path:      filepath.Join(dir, e.Name()),
			createdAt: createdAt,
			startSeq:  startSeq,
		})
	}

	sort.Slice(segs, func(i, j int) bool { return segs[i].startSeq < segs[j].startSeq })
	return segs, nil
}

// segment is a single open WAL file: a 16-byte header followed by a
// sequence of records. Only the active segment is ever open for writing;
// all others are immutable once rotated past.
type segment struct {
	file      *os.File
	path      string
	startSeq  uint64
	createdAt int64
	size      int64
	maxSeq    uint64 // highest seq appended (or recovered) in this segment
}

// createSegment creates a brand-new segment file with a fresh header.
func createSegment(dir string, startSeq uint64, now int64) (*segment, error) {
	path := filepath.Join(dir, segmentName(now, startSeq))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0o644)
	if err != nil {
		return nil, storageerr.Wrap(storageerr.KindIo, "wal: create segment", err)
	}
	hdr := encodeHeader(now)
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return nil, storageerr.Wrap(storageerr.KindIo, "wal: write segment header", err)
	}
	return &segment{file: f, path: path, startSeq: startSeq, createdAt: now, size: int64(len(hdr))}, nil
}

// openSegmentForAppend reopens an existing segment file for further writes,
// truncating it to validSize bytes first (validSize is the offset just past
// the last record recovery could verify; anything beyond it is a corrupt or
// partial tail and must never be appended after).
func openSegmentForAppend(info segmentInfo, validSize int64, maxSeq uint64) (*segment, error) {
	f, err := os.OpenFile(info.path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, storageerr.Wrap(storageerr.KindIo, "wal: reopen segment", err)
	}
	if err := f.Truncate(validSize); err != nil {
		f.Close()
		return nil, storageerr.Wrap(storageerr.KindIo, "wal: truncate corrupt tail", err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, storageerr.Wrap(storageerr.KindIo, "wal: seek segment", err)
	}
	return &segment{
		file: f, path: info.path, startSeq: info.startSeq, createdAt: info.createdAt,
		size: validSize, maxSeq: maxSeq,
	}, nil
}

func (s *segment) write(buf []byte) error {
	if _, err := s.file.Write(buf); err != nil {
		return storageerr.Wrap(storageerr.KindIo, "wal: write record", err)
	}
	s.size += int64(len(buf))
	return nil
}

func (s *segment) sync() error {
	if err := s.file.Sync(); err != nil {
		return storageerr.Wrap(storageerr.KindIo, "wal: fsync", err)
	}
	return nil
}

func (s *segment) close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return storageerr.Wrap(storageerr.KindIo, "wal: close segment", err)
	}
	return nil
}
