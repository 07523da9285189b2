// Package compaction implements the background merge task of §4.6: a
// Scanning/Selecting/Merging/Publishing pipeline driven by one of three
// selectable strategies, preserving the highest-sequence entry per key and
// dropping tombstones only when every older table is covered by the input
// set.
package compaction

import (
	"sort"

	"github.com/siltkv/siltkv/internal/sstable"
)

// Strategy names the selectable compaction policy (§6 compaction_strategy).
type Strategy string

const (
	SizeTiered Strategy = "size_tiered"
	Leveled    Strategy = "leveled"
	Hybrid     Strategy = "hybrid"
)

// Table is the metadata Selecting needs about one live SSTable: its level
// (always 0 under pure size-tiered), byte size, and the handle itself for
// Merging.
type Table struct {
	Level int
	Bytes int64
	Table *sstable.Table
}

// Plan is Selecting's output: a set of same-level input tables to merge
// and the level their output belongs to.
type Plan struct {
	Inputs     []Table
	OutputLevel int
}

// Params bounds how aggressively Selecting groups tables (§6).
type Params struct {
	TriggerCount int     // L0 count (or size-tiered group) that triggers a pass
	MaxInputs    int     // cap on tables merged in one pass
	LevelFactor  float64 // leveled: Li overflows when bytes > Li-1 * factor
}

// Select evaluates the configured strategy against the current live table
// set and returns zero or more independent plans (each safe to run
// concurrently against disjoint inputs, though the engine runs one at a
// time per §5's single compaction worker).
func Select(strategy Strategy, tables []Table, params Params) []Plan {
	switch strategy {
	case SizeTiered:
		return selectSizeTiered(tables, params)
	case Leveled:
		return selectLeveled(tables, params)
	default:
		return selectHybrid(tables, params)
	}
}

// selectSizeTiered groups tables of similar size (within factor 2) and
// emits a plan for any group at or above TriggerCount members.
func selectSizeTiered(tables []Table, params Params) []Plan {
	if len(tables) == 0 {
		return nil
	}

	sorted := append([]Table(nil), tables...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Bytes < sorted[j].Bytes })

	var plans []Plan
	i := 0
	for i < len(sorted) {
		j := i + 1
		for j < len(sorted) && withinFactor2(sorted[i].Bytes, sorted[j].Bytes) {
			j++
		}
		group := sorted[i:j]
		if len(group) >= params.TriggerCount {
			plans = append(plans, capInputs(group, 0, params.MaxInputs))
		}
		i = j
	}
	return plans
}

func withinFactor2(a, b int64) bool {
	if a == 0 || b == 0 {
		return a == b
	}
	ratio := float64(a) / float64(b)
	return ratio >= 0.5 && ratio <= 2.0
}

// selectLeveled groups L0 when it overflows on count, and Li (i>0) when
// its total bytes exceed Li-1's bytes times LevelFactor; the merge target
// is always the next level up.
func selectLeveled(tables []Table, params Params) []Plan {
	byLevel := map[int][]Table{}
	maxLevel := 0
	for _, t := range tables {
		byLevel[t.Level] = append(byLevel[t.Level], t)
		if t.Level > maxLevel {
			maxLevel = t.Level
		}
	}

	var plans []Plan
	if l0 := byLevel[0]; len(l0) >= params.TriggerCount {
		plans = append(plans, capInputs(l0, 1, params.MaxInputs))
	}

	for level := 1; level <= maxLevel; level++ {
		cur := byLevel[level]
		prevBytes := totalBytes(byLevel[level-1])
		curBytes := totalBytes(cur)
		if prevBytes > 0 && float64(curBytes) > float64(prevBytes)*params.LevelFactor {
			plans = append(plans, capInputs(cur, level+1, params.MaxInputs))
		}
	}
	return plans
}

// selectHybrid runs size-tiered compaction within L0 and leveled
// compaction for every level above it (§4.6: "size-tiered up to L0,
// leveled thereafter").
func selectHybrid(tables []Table, params Params) []Plan {
	var l0 []Table
	for _, t := range tables {
		if t.Level == 0 {
			l0 = append(l0, t)
		}
	}

	var plans []Plan
	plans = append(plans, selectSizeTiered(l0, params)...)
	for i := range plans {
		plans[i].OutputLevel = 1
	}
	// Level 1 is sized against L0, so the leveled pass sees every table;
	// its L0 plan (output level 1) is dropped in favour of the one above.
	for _, p := range selectLeveled(tables, params) {
		if p.OutputLevel > 1 {
			plans = append(plans, p)
		}
	}
	return plans
}

func capInputs(group []Table, outputLevel, maxInputs int) Plan {
	if maxInputs > 0 && len(group) > maxInputs {
		group = group[:maxInputs]
	}
	return Plan{Inputs: append([]Table(nil), group...), OutputLevel: outputLevel}
}

func totalBytes(tables []Table) int64 {
	var sum int64
	for _, t := range tables {
		sum += t.Bytes
	}
	return sum
}
