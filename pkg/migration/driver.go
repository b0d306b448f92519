package migration

import (
	"sync"
	"time"

	"github.com/cuemby/migrationdriver/pkg/metrics"
	"github.com/rs/zerolog"
)

// Config holds the collaborators and identity a Driver is constructed with.
type Config struct {
	NodeID         string
	Client         MigrationClient
	Consumer       RecordConsumer
	Propagator     Propagator
	QuorumFeatures QuorumFeatures
	FaultHandler   FaultHandler
	Logger         zerolog.Logger

	// InitialLoadCallback is invoked exactly once, at the end of recovery
	// (§4.7, §9): it is the driver's chance to register itself as a
	// MetadataPublisher with LogMeta. It must not be called at
	// construction time, since metadata events must not arrive before
	// recovery installs a LeadershipState.
	InitialLoadCallback func()

	// PollInterval overrides DefaultPollInterval; zero means use the
	// default. Tests use this to avoid waiting a full second per cycle.
	PollInterval time.Duration
}

// Driver is the top-level orchestrator (spec's "Orchestrator"): it owns the
// mutable driver fields, wires the sub-components together, and implements
// the handlers for the driver's event kinds. All of its fields below the
// mutex are mutated only by the event loop's one worker (I1); the mutex
// exists solely so external readers (getters, HTTP health projections) see
// a consistent snapshot.
type Driver struct {
	nodeID string

	client         MigrationClient
	consumer       RecordConsumer
	propagator     Propagator
	quorumFeatures QuorumFeatures
	faultHandler   FaultHandler
	logger         zerolog.Logger

	initialLoadCallback func()
	pollInterval        time.Duration

	loop *EventLoop

	mu           sync.RWMutex
	state        DriverState
	leadership   LeadershipState
	image        MetadataImage
	leader       LeaderAndEpoch
	firstPublish bool
}

// New constructs a Driver in its initial UNINITIALIZED state. Start must be
// called to begin processing events.
func New(cfg Config) *Driver {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	d := &Driver{
		nodeID:              cfg.NodeID,
		client:              cfg.Client,
		consumer:            cfg.Consumer,
		propagator:          cfg.Propagator,
		quorumFeatures:      cfg.QuorumFeatures,
		faultHandler:        cfg.FaultHandler,
		logger:              cfg.Logger,
		initialLoadCallback: cfg.InitialLoadCallback,
		pollInterval:        pollInterval,
		state:               StateUninitialized,
		leadership:          emptyLeadershipState(),
		image:               emptyMetadataImage(),
		leader:              unknownLeader,
	}
	d.loop = NewEventLoop(cfg.Logger, cfg.FaultHandler)
	return d
}

// Start launches the event loop and primes it with the initial poll event,
// prepended so it runs ahead of anything external callers submit in the
// same instant.
func (d *Driver) Start() {
	d.loop.Start()
	_ = d.loop.Prepend(d.pollEvent)
}

// Shutdown drains the event loop and stops the worker.
func (d *Driver) Shutdown() {
	d.loop.Shutdown()
}

// Name implements MetadataPublisher.
func (d *Driver) Name() string { return "migration-driver-" + d.nodeID }

// Close implements MetadataPublisher; the driver has no resources of its
// own to release beyond the event loop, which Shutdown already handles.
func (d *Driver) Close() {}

// CurrentState is the test-only control-surface hook from §6: it returns
// only once the worker has processed the request, proving happens-before
// against every event enqueued ahead of it.
func (d *Driver) CurrentState() DriverState {
	result := make(chan DriverState, 1)
	_ = d.loop.Append(func() error {
		result <- d.state
		return nil
	})
	return <-result
}

// transition validates and performs a state change, updating metrics and
// logging. Called only from the event loop worker.
func (d *Driver) transition(to DriverState) error {
	if err := TransitionGuard(d.state, to); err != nil {
		return err
	}
	from := d.state

	d.mu.Lock()
	d.state = to
	d.mu.Unlock()

	if from != to {
		d.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("driver state transition")
		metrics.StateTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	}
	metrics.DriverState.Reset()
	metrics.DriverState.WithLabelValues(string(to)).Set(1)
	return nil
}

// OnLeaderChange implements MetadataPublisher and the §4.4 handler: it only
// enqueues, never mutates state directly (I1).
func (d *Driver) OnLeaderChange(leader LeaderAndEpoch) {
	_ = d.loop.Append(func() error {
		return d.onLeaderChange(leader)
	})
}

// onLeaderChange is the §4.4 handler body, run on the event loop worker.
func (d *Driver) onLeaderChange(newLeader LeaderAndEpoch) error {
	d.mu.Lock()
	d.leader = newLeader
	d.mu.Unlock()

	d.leadership = d.leadership.WithNewLogMetaController(newLeader.NodeID, newLeader.Epoch)

	if newLeader.NodeID == d.nodeID {
		return d.transition(StateWaitForControllerQuorum)
	}
	return d.transition(StateInactive)
}

// waitForControllerQuorumEvent is the §4.5 handler.
func (d *Driver) waitForControllerQuorumEvent() error {
	if d.state != StateWaitForControllerQuorum {
		return nil
	}
	if !d.firstPublish {
		return nil
	}

	switch d.image.Features.MigrationFlag {
	case MigrationFlagNone:
		d.logger.Error().Msg("cluster is not configured for migration")
		return d.transition(StateInactive)

	case MigrationFlagPreMigration:
		if reason, notReady := d.quorumFeatures.ReasonAllControllersMigrationNotReady(); notReady {
			d.logger.Debug().Str("reason", reason).Msg("controller quorum not yet migration-ready")
			return nil
		}
		return d.transition(StateWaitForBrokers)

	case MigrationFlagMigration:
		if d.leadership.MigrationComplete {
			return d.transition(StateBecomeController)
		}
		d.logger.Error().Msg("image reports MIGRATION flag but leadership state is not migration-complete")
		return d.transition(StateInactive)

	case MigrationFlagPostMigration:
		d.logger.Error().Msg("image reports POST_MIGRATION flag while driver is still active")
		return d.transition(StateInactive)
	}
	return nil
}

// waitForBrokersEvent is the §4.6 handler.
func (d *Driver) waitForBrokersEvent() error {
	if d.state != StateWaitForBrokers {
		return nil
	}
	if !d.firstPublish || d.image.Cluster.Empty() {
		return nil
	}

	legacyBrokerIDs, err := d.client.ReadBrokerIDs()
	if err != nil {
		return err
	}
	if len(legacyBrokerIDs) == 0 {
		return nil
	}
	for id := range legacyBrokerIDs {
		if !d.image.Cluster.BrokerIDs[id] {
			return nil
		}
	}

	assignmentBrokerIDs, err := d.client.ReadBrokerIDsFromTopicAssignments()
	if err != nil {
		return err
	}
	for id := range assignmentBrokerIDs {
		if !d.image.Cluster.BrokerIDs[id] {
			return nil
		}
	}

	return d.transition(StateBecomeController)
}

// becomeLegacyControllerEvent is the §4.9 handler.
func (d *Driver) becomeLegacyControllerEvent() error {
	if d.state != StateBecomeController {
		return nil
	}

	next, err := applyLeadership(d.logger, "claim", d.leadership, d.client.ClaimControllerLeadership)
	if err != nil {
		return err
	}
	d.leadership = next

	if next.LegacyEpochZkVersion == -1 {
		metrics.ClaimAttemptsTotal.WithLabelValues("lost").Inc()
		d.logger.Debug().Msg("controller claim failed, another controller holds the znode")
		return nil
	}
	metrics.ClaimAttemptsTotal.WithLabelValues("acquired").Inc()

	if !next.MigrationComplete {
		return d.transition(StateZkMigration)
	}
	return d.transition(StateKRaftControllerToBroker)
}

// sendRPCsEvent is the §4.11 handler.
func (d *Driver) sendRPCsEvent() error {
	if d.state != StateKRaftControllerToBroker {
		return nil
	}
	replayed := OffsetAndEpoch{Offset: d.leadership.ReplayedOffset, Epoch: d.leadership.ReplayedEpoch}
	if d.image.HighestOffsetAndEpoch.Less(replayed) {
		return nil
	}
	d.propagator.SendRPCsToBrokersFromImage(d.image, d.leadership.LegacyControllerEpoch)
	return d.transition(StateDualWrite)
}

// OnMetadataUpdate implements MetadataPublisher and enqueues the §4.12
// dual-write handler.
func (d *Driver) OnMetadataUpdate(delta MetadataDelta, image MetadataImage, manifest Manifest, completionCallback func(error)) {
	_ = d.loop.Append(func() error {
		return d.metadataChangeEvent(delta, image, manifest, completionCallback)
	})
}
