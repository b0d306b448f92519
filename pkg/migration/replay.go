package migration

import (
	"time"

	"github.com/cuemby/migrationdriver/pkg/metrics"
)

// replayDeadline is how long the driver waits for a single LogMeta future
// (batch commit or migration-complete) to resolve before treating it as a
// fatal timeout (§4.10, §5).
const replayDeadline = 5 * time.Minute

// migrateMetadataEvent is the §4.10 bulk-replay handler, run only while
// state == ZK_MIGRATION.
func (d *Driver) migrateMetadataEvent() error {
	if d.state != StateZkMigration {
		return nil
	}

	timer := metrics.NewTimer()
	count := 0

	if err := d.consumer.BeginMigration(); err != nil {
		return err
	}

	readErr := d.client.ReadAllMetadata(
		func(batch RecordBatch) error {
			future, err := d.consumer.AcceptBatch(batch)
			if err != nil {
				return err
			}
			if err := future.Wait(time.Now().Add(replayDeadline)); err != nil {
				return err
			}
			count += batch.Size()
			metrics.ReplayBatchesTotal.Inc()
			metrics.ReplayRecordsTotal.Add(float64(batch.Size()))
			return nil
		},
		func(int32) {},
	)
	if readErr != nil {
		d.consumer.AbortMigration()
		return readErr
	}

	completeFuture, err := d.consumer.CompleteMigration()
	if err != nil {
		d.consumer.AbortMigration()
		return err
	}
	result, err := completeFuture.Wait(time.Now().Add(replayDeadline))
	if err != nil {
		d.consumer.AbortMigration()
		return err
	}

	next, err := applyLeadership(d.logger, "finish", d.leadership, func(s LeadershipState) (LeadershipState, error) {
		return d.client.SetMigrationRecoveryState(s.WithReplayedOffsetEpoch(result.Offset, result.Epoch).WithMigrationComplete())
	})
	if err != nil {
		d.consumer.AbortMigration()
		return err
	}
	d.leadership = next

	timer.ObserveDuration(metrics.ReplayDuration)
	d.logger.Info().
		Int("records", count).
		Int64("replayed_offset", result.Offset).
		Int64("replayed_epoch", result.Epoch).
		Msg("bulk migration replay complete")

	return d.transition(StateKRaftControllerToBroker)
}
