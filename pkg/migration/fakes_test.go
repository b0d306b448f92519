package migration

import (
	"errors"
	"sync"
)

// fakeClient is an in-memory MigrationClient standing in for LegacyStore. It
// tracks writes by kind so tests can assert ordering, and can be made to
// fail a named op a fixed number of times to exercise the §7 retry path.
type fakeClient struct {
	mu sync.Mutex

	recoveryState LeadershipState
	brokerIDs     map[int32]bool
	assignedIDs   map[int32]bool
	batches       []RecordBatch

	claimed    bool
	claimFails int

	failOps    map[string]int
	casFailOps map[string]int

	writes []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		recoveryState: emptyLeadershipState(),
		brokerIDs:     map[int32]bool{},
		assignedIDs:   map[int32]bool{},
		failOps:       map[string]int{},
		casFailOps:    map[string]int{},
	}
}

func (c *fakeClient) failNextN(op string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failOps[op] = n
}

// failNextCAS makes the next n mirror writes of the given kind lose their
// compare-and-swap, the way legacystore's writeMirror does when another
// writer bumped the on-disk zk version first: no error, just the -1
// sentinel in the returned LeadershipState.
func (c *fakeClient) failNextCAS(op string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.casFailOps[op] = n
}

func (c *fakeClient) maybeFail(op string) error {
	if n := c.failOps[op]; n > 0 {
		c.failOps[op] = n - 1
		return &MigrationClientException{Op: op, Err: errors.New("injected transient failure")}
	}
	return nil
}

func (c *fakeClient) GetOrCreateMigrationRecoveryState() (LeadershipState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recoveryState, nil
}

func (c *fakeClient) ClaimControllerLeadership(current LeadershipState) (LeadershipState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.maybeFail("claim"); err != nil {
		return current, err
	}
	if c.claimFails > 0 {
		c.claimFails--
		next := current
		next.LegacyEpochZkVersion = -1
		return next, nil
	}
	c.claimed = true
	next := current
	next.LegacyControllerEpoch++
	next.LegacyEpochZkVersion++
	c.recoveryState = next
	return next, nil
}

func (c *fakeClient) SetMigrationRecoveryState(current LeadershipState) (LeadershipState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.maybeFail("set_recovery"); err != nil {
		return current, err
	}
	next := current
	next.LegacyEpochZkVersion++
	c.recoveryState = next
	return next, nil
}

func (c *fakeClient) ReadBrokerIDs() (map[int32]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int32]bool, len(c.brokerIDs))
	for id := range c.brokerIDs {
		out[id] = true
	}
	return out, nil
}

func (c *fakeClient) ReadBrokerIDsFromTopicAssignments() (map[int32]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int32]bool, len(c.assignedIDs))
	for id := range c.assignedIDs {
		out[id] = true
	}
	return out, nil
}

func (c *fakeClient) ReadAllMetadata(batchSink func(RecordBatch) error, brokerSink func(int32)) error {
	c.mu.Lock()
	batches := append([]RecordBatch(nil), c.batches...)
	brokers := make([]int32, 0, len(c.brokerIDs))
	for id := range c.brokerIDs {
		brokers = append(brokers, id)
	}
	c.mu.Unlock()

	for _, b := range batches {
		if err := batchSink(b); err != nil {
			return err
		}
	}
	for _, id := range brokers {
		brokerSink(id)
	}
	return nil
}

func (c *fakeClient) record(kind string, current LeadershipState) (LeadershipState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.maybeFail(kind); err != nil {
		return current, err
	}
	if n := c.casFailOps[kind]; n > 0 {
		c.casFailOps[kind] = n - 1
		next := current
		next.LegacyEpochZkVersion = -1
		return next, nil
	}
	c.writes = append(c.writes, kind)
	next := current
	next.LegacyEpochZkVersion++
	return next, nil
}

func (c *fakeClient) CreateTopic(name, id string, partitions PartitionChanges, current LeadershipState) (LeadershipState, error) {
	return c.record("topics", current)
}

func (c *fakeClient) UpdateTopicPartitions(changes map[string]PartitionChanges, current LeadershipState) (LeadershipState, error) {
	return c.record("topics", current)
}

func (c *fakeClient) WriteConfigs(resource ConfigResource, configs map[string]string, current LeadershipState) (LeadershipState, error) {
	return c.record("configs", current)
}

func (c *fakeClient) WriteClientQuotas(entity ClientQuotaEntity, quotas map[string]float64, current LeadershipState) (LeadershipState, error) {
	return c.record("quotas", current)
}

func (c *fakeClient) WriteProducerID(nextProducerID int64, current LeadershipState) (LeadershipState, error) {
	return c.record("producer_id", current)
}

func (c *fakeClient) RemoveDeletedAcls(pattern ResourcePattern, entries []AclEntry, current LeadershipState) (LeadershipState, error) {
	return c.record("acls_delete", current)
}

func (c *fakeClient) WriteAddedAcls(pattern ResourcePattern, entries []AclEntry, current LeadershipState) (LeadershipState, error) {
	return c.record("acls_add", current)
}

// fakeConsumer is an in-memory RecordConsumer standing in for LogMeta's
// bulk-replay ingestion path.
type fakeConsumer struct {
	mu        sync.Mutex
	began     bool
	aborted   bool
	completed bool
	accepted  []RecordBatch

	completeOffset OffsetAndEpoch
	failComplete   error
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{}
}

func (c *fakeConsumer) BeginMigration() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.began = true
	return nil
}

func (c *fakeConsumer) AcceptBatch(batch RecordBatch) (*BatchFuture, error) {
	c.mu.Lock()
	c.accepted = append(c.accepted, batch)
	c.mu.Unlock()
	future, resolve := NewBatchFuture()
	resolve(nil)
	return future, nil
}

func (c *fakeConsumer) CompleteMigration() (*CompleteMigrationFuture, error) {
	future, resolve := NewCompleteMigrationFuture()
	c.mu.Lock()
	c.completed = true
	offset, err := c.completeOffset, c.failComplete
	c.mu.Unlock()
	resolve(offset, err)
	return future, nil
}

func (c *fakeConsumer) AbortMigration() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted = true
}

// fakePropagator is an in-memory Propagator recording what it was asked to
// send, for assertions on when broker RPCs fire.
type fakePropagator struct {
	mu             sync.Mutex
	metadataVer    int32
	imageSends     int
	deltaSends     int
	lastEpoch      int64
}

func newFakePropagator() *fakePropagator {
	return &fakePropagator{}
}

func (p *fakePropagator) SetMetadataVersion(version int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metadataVer = version
}

func (p *fakePropagator) SendRPCsToBrokersFromImage(image MetadataImage, legacyControllerEpoch int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.imageSends++
	p.lastEpoch = legacyControllerEpoch
}

func (p *fakePropagator) SendRPCsToBrokersFromDelta(delta MetadataDelta, image MetadataImage, legacyControllerEpoch int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deltaSends++
	p.lastEpoch = legacyControllerEpoch
}

// fakeQuorumFeatures lets tests flip migration-readiness on and off.
type fakeQuorumFeatures struct {
	mu     sync.Mutex
	ready  bool
	reason string
}

func (q *fakeQuorumFeatures) setReady(ready bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = ready
}

func (q *fakeQuorumFeatures) ReasonAllControllersMigrationNotReady() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return "", false
	}
	if q.reason == "" {
		return "peer missing migration feature flag", true
	}
	return q.reason, true
}

// fakeFaultHandler records every fault reported to it instead of crashing
// the test process.
type fakeFaultHandler struct {
	mu     sync.Mutex
	faults []string
}

func (f *fakeFaultHandler) HandleFault(msg string, cause error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, msg+": "+cause.Error())
}

func (f *fakeFaultHandler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.faults)
}
