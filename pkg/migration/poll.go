package migration

import (
	"time"

	"github.com/cuemby/migrationdriver/pkg/metrics"
)

// DefaultPollInterval is how often the self-scheduling poll event fires by
// default (§4.3). Config.PollInterval overrides it, primarily so tests don't
// wait a full second per cycle.
const DefaultPollInterval = 1 * time.Second

// schedulePoll enqueues the next poll PollInterval ahead. It is called at
// the tail of every poll execution; the very first poll is instead
// prepended by Start, so it wins any race against an early external event.
func (d *Driver) schedulePoll() {
	_ = d.loop.ScheduleDeferred(time.Now().Add(d.pollInterval), d.pollEvent)
}

// pollEvent is the body of the self-scheduling poll event (§4.3). It always
// reschedules itself before returning, even on error, so a transient error
// never stalls the poll cycle.
func (d *Driver) pollEvent() error {
	defer d.schedulePoll()
	metrics.PollCyclesTotal.Inc()

	switch d.state {
	case StateUninitialized:
		if err := d.recover(); err != nil {
			return err
		}
		return d.transition(StateInactive)

	case StateInactive:
		// no-op

	case StateWaitForControllerQuorum:
		return d.loop.Append(d.waitForControllerQuorumEvent)

	case StateBecomeController:
		return d.loop.Append(d.becomeLegacyControllerEvent)

	case StateWaitForBrokers:
		return d.loop.Append(d.waitForBrokersEvent)

	case StateZkMigration:
		return d.loop.Append(d.migrateMetadataEvent)

	case StateKRaftControllerToBroker:
		return d.loop.Append(d.sendRPCsEvent)

	case StateDualWrite:
		// no-op, driven by metadata events
	}
	return nil
}

// recover implements §4.7: executed exactly once, on the first poll while
// state == UNINITIALIZED.
func (d *Driver) recover() error {
	leadership, err := d.client.GetOrCreateMigrationRecoveryState()
	if err != nil {
		return err
	}
	d.leadership = leadership
	if d.initialLoadCallback != nil {
		d.initialLoadCallback()
	}
	return nil
}
