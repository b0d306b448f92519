package migration

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPollInterval = 10 * time.Millisecond

type harness struct {
	driver     *Driver
	client     *fakeClient
	consumer   *fakeConsumer
	propagator *fakePropagator
	quorum     *fakeQuorumFeatures
	faults     *fakeFaultHandler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		client:     newFakeClient(),
		consumer:   newFakeConsumer(),
		propagator: newFakePropagator(),
		quorum:     &fakeQuorumFeatures{ready: true},
		faults:     &fakeFaultHandler{},
	}
	h.driver = New(Config{
		NodeID:              "node-1",
		Client:              h.client,
		Consumer:            h.consumer,
		Propagator:          h.propagator,
		QuorumFeatures:      h.quorum,
		FaultHandler:        h.faults,
		Logger:              zerolog.Nop(),
		InitialLoadCallback: func() {},
		PollInterval:        testPollInterval,
	})
	t.Cleanup(h.driver.Shutdown)
	h.driver.Start()
	return h
}

// awaitState polls CurrentState until it matches want or the timeout elapses.
func awaitState(t *testing.T, d *Driver, want DriverState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if d.CurrentState() == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for state %s, last seen %s", want, d.CurrentState())
		}
		time.Sleep(testPollInterval)
	}
}

// setImageForTest installs img as the driver's current image via the event
// loop, so it happens-before anything enqueued afterward (I1).
func setImageForTest(d *Driver, img MetadataImage) {
	done := make(chan struct{})
	_ = d.loop.Append(func() error {
		d.image = img
		close(done)
		return nil
	})
	<-done
}

func premigrationImage() MetadataImage {
	img := emptyMetadataImage()
	img.Features.MigrationFlag = MigrationFlagPreMigration
	img.Cluster = ClusterImage{BrokerIDs: map[int32]bool{1: true}}
	return img
}

// TestColdStartFullMigration drives the driver through every state from
// UNINITIALIZED to DUAL_WRITE: S1.
func TestColdStartFullMigration(t *testing.T) {
	h := newHarness(t)
	h.client.brokerIDs[1] = true
	h.client.assignedIDs[1] = true
	h.client.batches = []RecordBatch{{Records: []any{"topic-a", "topic-b"}}}

	h.driver.OnLeaderChange(LeaderAndEpoch{NodeID: "node-1", Epoch: 1})
	awaitState(t, h.driver, StateWaitForControllerQuorum, time.Second)

	h.driver.OnMetadataUpdate(MetadataDelta{}, premigrationImage(), Manifest{IsSnapshot: true}, nil)
	awaitState(t, h.driver, StateWaitForBrokers, time.Second)

	awaitState(t, h.driver, StateZkMigration, time.Second)

	awaitState(t, h.driver, StateKRaftControllerToBroker, time.Second)

	img := premigrationImage()
	img.Features.MigrationFlag = MigrationFlagMigration
	h.driver.OnMetadataUpdate(MetadataDelta{}, img, Manifest{IsSnapshot: true}, nil)

	awaitState(t, h.driver, StateDualWrite, 2*time.Second)

	assert.Equal(t, 1, h.propagator.imageSends)
	assert.True(t, h.consumer.completed)
	assert.Equal(t, 0, h.faults.count())
}

// TestRestartMidMigration recovers a leadership state that already reports
// MigrationComplete, so the driver should skip ZK_MIGRATION entirely: S2.
func TestRestartMidMigration(t *testing.T) {
	h := newHarness(t)
	h.client.recoveryState = LeadershipState{
		LegacyEpochZkVersion: 3,
		MigrationComplete:    true,
	}
	h.client.brokerIDs[1] = true
	h.client.assignedIDs[1] = true

	h.driver.OnLeaderChange(LeaderAndEpoch{NodeID: "node-1", Epoch: 1})
	awaitState(t, h.driver, StateWaitForControllerQuorum, time.Second)

	img := emptyMetadataImage()
	img.Features.MigrationFlag = MigrationFlagMigration
	img.Cluster = ClusterImage{BrokerIDs: map[int32]bool{1: true}}
	h.driver.OnMetadataUpdate(MetadataDelta{}, img, Manifest{IsSnapshot: true}, nil)

	awaitState(t, h.driver, StateBecomeController, time.Second)
	awaitState(t, h.driver, StateKRaftControllerToBroker, time.Second)

	h.driver.OnMetadataUpdate(MetadataDelta{}, img, Manifest{IsSnapshot: true}, nil)
	awaitState(t, h.driver, StateDualWrite, time.Second)

	assert.False(t, h.consumer.began, "replay must not run when recovery already reports migration-complete")
}

// TestNotConfiguredGoesInactive covers S3: an image reporting MigrationFlagNone
// sends the driver back to INACTIVE rather than advancing.
func TestNotConfiguredGoesInactive(t *testing.T) {
	h := newHarness(t)
	h.driver.OnLeaderChange(LeaderAndEpoch{NodeID: "node-1", Epoch: 1})
	awaitState(t, h.driver, StateWaitForControllerQuorum, time.Second)

	img := emptyMetadataImage()
	img.Features.MigrationFlag = MigrationFlagNone
	h.driver.OnMetadataUpdate(MetadataDelta{}, img, Manifest{IsSnapshot: true}, nil)

	awaitState(t, h.driver, StateInactive, time.Second)
}

// TestLeaderLossDuringDualWrite covers S4: losing LogMeta leadership while in
// DUAL_WRITE must fall back to INACTIVE without the driver crashing.
func TestLeaderLossDuringDualWrite(t *testing.T) {
	h := newHarness(t)
	h.client.brokerIDs[1] = true
	h.client.assignedIDs[1] = true

	h.driver.OnLeaderChange(LeaderAndEpoch{NodeID: "node-1", Epoch: 1})
	awaitState(t, h.driver, StateWaitForControllerQuorum, time.Second)
	h.driver.OnMetadataUpdate(MetadataDelta{}, premigrationImage(), Manifest{IsSnapshot: true}, nil)
	awaitState(t, h.driver, StateDualWrite, 2*time.Second)

	h.driver.OnLeaderChange(LeaderAndEpoch{NodeID: "node-2", Epoch: 2})
	awaitState(t, h.driver, StateInactive, time.Second)
	assert.Equal(t, 0, h.faults.count())
}

// TestAclOrdering covers P4/S5: deletions for a pattern must be mirrored
// before additions for the same pattern, and a delete of an entry never seen
// in prevImage is fatal.
func TestAclOrdering(t *testing.T) {
	h := newHarness(t)
	h.client.brokerIDs[1] = true
	h.client.assignedIDs[1] = true
	h.driver.OnLeaderChange(LeaderAndEpoch{NodeID: "node-1", Epoch: 1})
	awaitState(t, h.driver, StateWaitForControllerQuorum, time.Second)
	h.driver.OnMetadataUpdate(MetadataDelta{}, premigrationImage(), Manifest{IsSnapshot: true}, nil)
	awaitState(t, h.driver, StateDualWrite, 2*time.Second)

	pattern := ResourcePattern{Type: "topic", Name: "orders", PatternType: "LITERAL"}
	prevImage := premigrationImage()
	prevImage.Acls = AclsImage{ByPattern: map[ResourcePattern]map[string]AclEntry{
		pattern: {"acl-1": {UUID: "acl-1", Principal: "User:alice", Operation: "READ", Permission: "ALLOW"}},
	}}

	newImage := prevImage
	newImage.HighestOffsetAndEpoch = OffsetAndEpoch{Offset: 1, Epoch: 1}
	delta := MetadataDelta{AclsDelta: &AclsDelta{Changes: []AclChange{
		{Pattern: pattern, UUID: "acl-1", Entry: nil},
		{Pattern: pattern, UUID: "acl-2", Entry: &AclEntry{UUID: "acl-2", Principal: "User:bob", Operation: "WRITE", Permission: "ALLOW"}},
	}}}

	setImageForTest(h.driver, prevImage)
	done := make(chan error, 1)
	h.driver.OnMetadataUpdate(delta, newImage, Manifest{}, func(err error) { done <- err })
	require.NoError(t, <-done)

	require.Len(t, h.client.writes, 2)
	assert.Equal(t, "acls_delete", h.client.writes[0])
	assert.Equal(t, "acls_add", h.client.writes[1])
}

// TestAclDeleteOfUnseenEntryIsFatal covers P4's fatal edge case directly.
func TestAclDeleteOfUnseenEntryIsFatal(t *testing.T) {
	h := newHarness(t)
	h.client.brokerIDs[1] = true
	h.client.assignedIDs[1] = true
	h.driver.OnLeaderChange(LeaderAndEpoch{NodeID: "node-1", Epoch: 1})
	awaitState(t, h.driver, StateWaitForControllerQuorum, time.Second)
	img := premigrationImage()
	h.driver.OnMetadataUpdate(MetadataDelta{}, img, Manifest{IsSnapshot: true}, nil)
	awaitState(t, h.driver, StateDualWrite, 2*time.Second)

	// Publish past the replayed position so the delta is mirrored, not
	// skipped as already-replayed (I5).
	img.HighestOffsetAndEpoch = OffsetAndEpoch{Offset: 1, Epoch: 1}
	pattern := ResourcePattern{Type: "topic", Name: "orders", PatternType: "LITERAL"}
	delta := MetadataDelta{AclsDelta: &AclsDelta{Changes: []AclChange{
		{Pattern: pattern, UUID: "ghost", Entry: nil},
	}}}

	done := make(chan error, 1)
	h.driver.OnMetadataUpdate(delta, img, Manifest{}, func(err error) { done <- err })
	err := <-done
	require.Error(t, err)
}

// TestTransientLegacyStoreErrorRetries covers S6: a transient LegacyStore
// error during the controller claim is logged and swallowed, and a later
// poll succeeds without driver intervention.
func TestTransientLegacyStoreErrorRetries(t *testing.T) {
	h := newHarness(t)
	h.client.brokerIDs[1] = true
	h.client.assignedIDs[1] = true
	h.client.failNextN("claim", 2)

	h.driver.OnLeaderChange(LeaderAndEpoch{NodeID: "node-1", Epoch: 1})
	awaitState(t, h.driver, StateWaitForControllerQuorum, time.Second)
	h.driver.OnMetadataUpdate(MetadataDelta{}, premigrationImage(), Manifest{IsSnapshot: true}, nil)

	awaitState(t, h.driver, StateBecomeController, time.Second)
	awaitState(t, h.driver, StateZkMigration, 2*time.Second)

	assert.Equal(t, 0, h.faults.count(), "transient legacystore errors must not reach the fault handler")
}

// TestMirrorConditionalUpdateFailureFallsBackToInactive covers I3: a mirror
// write that loses its compare-and-swap against legacystore's cached zk
// version must drive the driver back to INACTIVE, not escalate to the fault
// handler.
func TestMirrorConditionalUpdateFailureFallsBackToInactive(t *testing.T) {
	h := newHarness(t)
	h.client.brokerIDs[1] = true
	h.client.assignedIDs[1] = true
	h.driver.OnLeaderChange(LeaderAndEpoch{NodeID: "node-1", Epoch: 1})
	awaitState(t, h.driver, StateWaitForControllerQuorum, time.Second)
	h.driver.OnMetadataUpdate(MetadataDelta{}, premigrationImage(), Manifest{IsSnapshot: true}, nil)
	awaitState(t, h.driver, StateDualWrite, 2*time.Second)

	h.client.failNextCAS("topics", 1)

	img := premigrationImage()
	img.HighestOffsetAndEpoch = OffsetAndEpoch{Offset: 1, Epoch: 1}
	img.Topics.ByID["topic-a"] = TopicImage{ID: "topic-a", Name: "topic-a", Partitions: PartitionChanges{0: {1}}}
	delta := MetadataDelta{TopicsDelta: &TopicsDelta{
		ChangedTopicIDs: []string{"topic-a"},
		CreatedTopicIDs: map[string]bool{"topic-a": true},
	}}

	done := make(chan error, 1)
	h.driver.OnMetadataUpdate(delta, img, Manifest{}, func(err error) { done <- err })
	err := <-done
	require.ErrorIs(t, err, errMirrorConditionalUpdateFailed)

	awaitState(t, h.driver, StateInactive, time.Second)
	assert.Equal(t, 0, h.faults.count(), "a lost conditional update is handled by the fallback, not escalated")
}

// TestIllegalTransitionRejected exercises TransitionGuard directly (P1).
func TestIllegalTransitionRejected(t *testing.T) {
	err := TransitionGuard(StateInactive, StateDualWrite)
	var illegal *IllegalTransitionError
	require.ErrorAs(t, err, &illegal)

	require.NoError(t, TransitionGuard(StateInactive, StateInactive))
	require.NoError(t, TransitionGuard(StateUninitialized, StateInactive))
	require.Error(t, TransitionGuard(StateDualWrite, StateUninitialized))
}
