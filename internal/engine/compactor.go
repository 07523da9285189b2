package engine

import (
	"time"

	"github.com/siltkv/siltkv/internal/compaction"
	"github.com/siltkv/siltkv/internal/sstable"
	"github.com/siltkv/siltkv/internal/storageerr"
)

// compactLoop is the one background compaction worker of §4.6: it ticks
// periodically, and after every tick runs the
// Scanning -> Selecting -> Merging -> Publishing pipeline for every plan
// the configured strategy selects.
func (e *Engine) compactLoop() {
	interval := time.Duration(e.cfg.CompactionIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.runCompactionPass()
		}
	}
}

// Compact runs one synchronous compaction pass against the current
// readable set, for operator-triggered on-demand compaction (the CLI's
// "compact" subcommand) rather than waiting for the periodic tick.
func (e *Engine) Compact() error {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return storageerr.ErrShuttingDown
	}
	e.runCompactionPass()
	return nil
}

func (e *Engine) runCompactionPass() {
	e.setCompactionState(compaction.Scanning)
	defer e.setCompactionState(compaction.Idle)

	rs := e.readable.load()
	if len(rs.tables) < 2 {
		return
	}

	tables := make([]compaction.Table, 0, len(rs.tables))
	for _, te := range rs.tables {
		tables = append(tables, compaction.Table{
			Level: te.level,
			Bytes: int64(te.table.DataEnd()),
			Table: te.table,
		})
	}

	e.setCompactionState(compaction.Selecting)
	plans := compaction.Select(e.cfg.CompactionStrategy, tables, compaction.Params{
		TriggerCount: e.cfg.CompactionTriggerCount,
		MaxInputs:    e.cfg.CompactionMaxInputs,
		LevelFactor:  e.cfg.CompactionLevelFactor,
	})

	for _, plan := range plans {
		if err := e.runPlan(plan, len(rs.tables)); err != nil {
			e.logger.Error().Err(err).Msg("compaction plan failed; will retry on next tick")
		}
	}
}

func (e *Engine) runPlan(plan compaction.Plan, liveCount int) error {
	inputs := make([]*sstable.Table, 0, len(plan.Inputs))
	inputCT := make([]compaction.Table, 0, len(plan.Inputs))
	removed := make(map[uint64]bool, len(plan.Inputs))
	for _, it := range plan.Inputs {
		inputs = append(inputs, it.Table)
		inputCT = append(inputCT, it)
		removed[it.Table.ID] = true
	}

	for _, t := range inputs {
		t.Acquire()
	}
	defer func() {
		for _, t := range inputs {
			t.Release()
		}
	}()

	isExhaustive := compaction.IsExhaustive(inputCT, liveCount) || plan.OutputLevel >= maxLevel
	id := e.nextTableIDValue()

	e.setCompactionState(compaction.Merging)
	out, err := compaction.Merge(e.sstDir, id, inputs, isExhaustive, e.cfg.BloomTargetFP)
	if err != nil {
		return err
	}

	e.setCompactionState(compaction.Publishing)
	for {
		old := e.readable.load()
		updated := old.withPublished(out, plan.OutputLevel, removed)
		if e.readable.publish(old, updated, inputs) {
			break
		}
	}

	// Unlinking the files is safe immediately (open readers keep working
	// off their already-open descriptors); actually closing those
	// descriptors is deferred by publish until every reader that observed
	// the pre-compaction generation has finished with it.
	if err := compaction.DeleteInputs(inputs); err != nil {
		e.logger.Warn().Err(err).Msg("failed to remove compacted-away SSTable files")
	}

	outID := "none"
	if out != nil {
		outID = sstable.FileName(out.ID)
	}
	e.logger.Info().Int("inputs", len(inputs)).Int("output_level", plan.OutputLevel).
		Str("output", outID).Msg("compaction published")

	return nil
}

// maxLevel is treated as the bottom level for exhaustiveness purposes:
// any plan targeting this level or deeper has, by construction of the
// leveled/hybrid selector, already absorbed every older version of its
// keys, so tombstones may always be dropped there.
const maxLevel = 6
