package logmeta

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cuemby/migrationdriver/pkg/migration"
	"github.com/hashicorp/raft"
)

const applyTimeout = 10 * time.Second

// BeginMigration implements migration.RecordConsumer.
func (q *Quorum) BeginMigration() error {
	if !q.IsLeader() {
		return fmt.Errorf("logmeta: not the leader, cannot begin migration")
	}
	q.mu.Lock()
	q.migrating = true
	q.mu.Unlock()
	return nil
}

// AcceptBatch implements migration.RecordConsumer: each record in the batch
// is committed to the raft log as an opaque replay_record command, and the
// future resolves once raft.Apply returns (synchronously, since this
// implementation never needs to hand a pending future across goroutines).
func (q *Quorum) AcceptBatch(batch migration.RecordBatch) (*migration.BatchFuture, error) {
	future, resolve := migration.NewBatchFuture()

	for _, record := range batch.Records {
		payload, err := json.Marshal(record)
		if err != nil {
			resolve(err)
			return future, nil
		}
		cmd := Command{Op: opReplayRecord, Data: payload}
		encoded, err := json.Marshal(cmd)
		if err != nil {
			resolve(err)
			return future, nil
		}
		if err := q.raft.Apply(encoded, applyTimeout).Error(); err != nil {
			resolve(fmt.Errorf("logmeta: apply replay record: %w", err))
			return future, nil
		}
	}
	resolve(nil)
	return future, nil
}

// CompleteMigration implements migration.RecordConsumer: it commits a
// barrier command so every prior replay_record has a well-defined commit
// position, then reports that position as the replayed offset/epoch.
func (q *Quorum) CompleteMigration() (*migration.CompleteMigrationFuture, error) {
	future, resolve := migration.NewCompleteMigrationFuture()

	cmd := Command{Op: opMigrationMarker}
	encoded, err := json.Marshal(cmd)
	if err != nil {
		resolve(migration.OffsetAndEpoch{}, err)
		return future, nil
	}

	applyFuture := q.raft.Apply(encoded, applyTimeout)
	if err := applyFuture.Error(); err != nil {
		resolve(migration.OffsetAndEpoch{}, fmt.Errorf("logmeta: apply migration-complete marker: %w", err))
		return future, nil
	}

	q.mu.Lock()
	q.migrating = false
	q.mu.Unlock()

	resolve(migration.OffsetAndEpoch{Offset: int64(q.raft.LastIndex()), Epoch: currentTerm(q.raft)}, nil)
	return future, nil
}

// AbortMigration implements migration.RecordConsumer.
func (q *Quorum) AbortMigration() {
	q.mu.Lock()
	q.migrating = false
	q.mu.Unlock()
}

func currentTerm(r *raft.Raft) int64 {
	term, _ := strconv.ParseInt(r.Stats()["term"], 10, 64)
	return term
}
