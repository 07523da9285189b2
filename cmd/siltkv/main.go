// Command siltkv is a small operator CLI over pkg/kv: put/get/delete
// single keys, force a flush, or print a stats snapshot against a data
// directory.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/siltkv/siltkv/internal/compaction"
	"github.com/siltkv/siltkv/internal/engine"
	"github.com/siltkv/siltkv/pkg/kv"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]

	fs := flag.NewFlagSet("siltkv", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	dir := fs.String("dir", "data", "data directory (WAL + SSTables live here)")
	memMax := fs.Int64("mem-max-bytes", 4<<20, "memtable flush threshold in bytes")
	strategy := fs.String("compaction", string(compaction.Hybrid), "compaction strategy: size_tiered|leveled|hybrid")
	verbose := fs.Bool("verbose", false, "log at debug level instead of info")

	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}
	args := fs.Args()

	opts := engine.DefaultOptions(*dir)
	opts.MemtableMaxBytes = *memMax
	opts.CompactionStrategy = compaction.Strategy(*strategy)
	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	opts.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	db, err := kv.OpenWithOptions(opts)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = db.Close() }()

	switch cmd {
	case "put":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		if err := db.Put([]byte(args[0]), []byte(args[1])); err != nil {
			fatal(err)
		}
		fmt.Println("ok")

	case "get":
		if len(args) != 1 {
			usage()
			os.Exit(2)
		}
		v, err := db.Get([]byte(args[0]))
		if err == kv.ErrNotFound {
			fmt.Println("(not found)")
			os.Exit(1)
		}
		if err != nil {
			fatal(err)
		}
		fmt.Println(string(v))

	case "del":
		if len(args) != 1 {
			usage()
			os.Exit(2)
		}
		if err := db.Delete([]byte(args[0])); err != nil {
			fatal(err)
		}
		fmt.Println("ok")

	case "flush":
		if err := db.Flush(); err != nil {
			fatal(err)
		}
		fmt.Println("ok")

	case "compact":
		if err := db.Compact(); err != nil {
			fatal(err)
		}
		fmt.Println("ok")

	case "stats":
		s := db.Stats()
		fmt.Printf("sstables:        %d\n", s.SSTableCount)
		fmt.Printf("pending_flushes: %d\n", s.PendingFlushes)
		fmt.Printf("wal_segments:    %d\n", s.WALSegmentCount)
		fmt.Printf("highest_seq:     %d\n", s.HighestSequence)

	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  siltkv put [flags] <key> <value>")
	fmt.Fprintln(os.Stderr, "  siltkv get [flags] <key>")
	fmt.Fprintln(os.Stderr, "  siltkv del [flags] <key>")
	fmt.Fprintln(os.Stderr, "  siltkv flush [flags]")
	fmt.Fprintln(os.Stderr, "  siltkv compact [flags]")
	fmt.Fprintln(os.Stderr, "  siltkv stats [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Flags:")
	fmt.Fprintln(os.Stderr, "  -dir            data directory (default: data)")
	fmt.Fprintln(os.Stderr, "  -mem-max-bytes  memtable flush threshold (default: 4MiB)")
	fmt.Fprintln(os.Stderr, "  -compaction     size_tiered|leveled|hybrid (default: hybrid)")
	fmt.Fprintln(os.Stderr, "  -verbose        debug-level logging")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
