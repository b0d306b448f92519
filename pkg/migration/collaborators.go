package migration

import (
	"errors"
	"time"
)

// MigrationClientException is a transient LegacyStore error: §7 directs
// callers to log it at info and leave state unchanged, relying on the next
// poll to retry.
type MigrationClientException struct {
	Op  string
	Err error
}

func (e *MigrationClientException) Error() string {
	return "legacystore: " + e.Op + ": " + e.Err.Error()
}

func (e *MigrationClientException) Unwrap() error { return e.Err }

// MigrationClientAuthException is an authentication failure against
// LegacyStore: §7 directs callers to report it to the fault handler as
// severe but keep the worker alive.
type MigrationClientAuthException struct {
	Op  string
	Err error
}

func (e *MigrationClientAuthException) Error() string {
	return "legacystore auth failure: " + e.Op + ": " + e.Err.Error()
}

func (e *MigrationClientAuthException) Unwrap() error { return e.Err }

// ErrTimeout is raised when a RecordConsumer future is not resolved within
// its deadline.
var ErrTimeout = errors.New("migration: timed out waiting for logmeta commit")

// RecordBatch is one group of LegacyStore records being replayed into
// LogMeta. Per-entity grouping is preserved by the MigrationClient so a
// record and its tombstones land in the same batch or in order.
type RecordBatch struct {
	Records []any
}

// Size reports the number of records carried by the batch.
func (b RecordBatch) Size() int { return len(b.Records) }

// BatchFuture resolves once LogMeta has committed a submitted batch.
type BatchFuture struct {
	done chan struct{}
	err  error
}

// NewBatchFuture returns a pending future and the function that resolves it.
func NewBatchFuture() (*BatchFuture, func(error)) {
	f := &BatchFuture{done: make(chan struct{})}
	return f, func(err error) {
		f.err = err
		close(f.done)
	}
}

// Wait blocks until the future resolves or the deadline passes.
func (f *BatchFuture) Wait(deadline time.Time) error {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-f.done:
		return f.err
	case <-timer.C:
		return ErrTimeout
	}
}

// CompleteMigrationFuture resolves to the (offset, epoch) LogMeta committed
// the migration-complete marker at.
type CompleteMigrationFuture struct {
	done   chan struct{}
	result OffsetAndEpoch
	err    error
}

// NewCompleteMigrationFuture returns a pending future and its resolver.
func NewCompleteMigrationFuture() (*CompleteMigrationFuture, func(OffsetAndEpoch, error)) {
	f := &CompleteMigrationFuture{done: make(chan struct{})}
	return f, func(result OffsetAndEpoch, err error) {
		f.result = result
		f.err = err
		close(f.done)
	}
}

// Wait blocks until the future resolves or the deadline passes.
func (f *CompleteMigrationFuture) Wait(deadline time.Time) (OffsetAndEpoch, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-f.done:
		return f.result, f.err
	case <-timer.C:
		return OffsetAndEpoch{}, ErrTimeout
	}
}

// MigrationClient is the LegacyStore collaborator: it reads/writes znodes
// and performs conditional leader-claim operations. Every write is guarded
// by the LeadershipState it is handed and returns a new LeadershipState with
// a refreshed znode version (I3).
type MigrationClient interface {
	GetOrCreateMigrationRecoveryState() (LeadershipState, error)
	ClaimControllerLeadership(current LeadershipState) (LeadershipState, error)
	SetMigrationRecoveryState(current LeadershipState) (LeadershipState, error)

	ReadBrokerIDs() (map[int32]bool, error)
	ReadBrokerIDsFromTopicAssignments() (map[int32]bool, error)

	// ReadAllMetadata streams LegacyStore metadata to batchSink in
	// implementation-defined but per-entity-consistent order, and reports
	// every legacy broker id it encounters to brokerSink.
	ReadAllMetadata(batchSink func(RecordBatch) error, brokerSink func(int32)) error

	CreateTopic(name, id string, partitions PartitionChanges, current LeadershipState) (LeadershipState, error)
	UpdateTopicPartitions(changes map[string]PartitionChanges, current LeadershipState) (LeadershipState, error)
	WriteConfigs(resource ConfigResource, configs map[string]string, current LeadershipState) (LeadershipState, error)
	WriteClientQuotas(entity ClientQuotaEntity, quotas map[string]float64, current LeadershipState) (LeadershipState, error)
	WriteProducerID(nextProducerID int64, current LeadershipState) (LeadershipState, error)
	RemoveDeletedAcls(pattern ResourcePattern, entries []AclEntry, current LeadershipState) (LeadershipState, error)
	WriteAddedAcls(pattern ResourcePattern, entries []AclEntry, current LeadershipState) (LeadershipState, error)
}

// RecordConsumer is the LogMeta collaborator that ingests migration batches
// during the one-shot bulk replay (§4.10).
type RecordConsumer interface {
	BeginMigration() error
	AcceptBatch(batch RecordBatch) (*BatchFuture, error)
	CompleteMigration() (*CompleteMigrationFuture, error)
	AbortMigration()
}

// Propagator sends legacy-protocol RPCs to brokers so they learn cluster
// state from the driver.
type Propagator interface {
	SetMetadataVersion(version int32)
	SendRPCsToBrokersFromImage(image MetadataImage, legacyControllerEpoch int64)
	SendRPCsToBrokersFromDelta(delta MetadataDelta, image MetadataImage, legacyControllerEpoch int64)
}

// QuorumFeatures probes whether every LogMeta controller peer advertises
// migration support.
type QuorumFeatures interface {
	ReasonAllControllersMigrationNotReady() (string, bool)
}

// FaultHandler is notified of severe and unhandled faults that the event
// loop's exception classifier (§4.2) cannot simply log and move past.
type FaultHandler interface {
	HandleFault(msg string, cause error)
}

// Manifest distinguishes a full-image publish from an incremental delta;
// the driver treats both identically beyond this flag.
type Manifest struct {
	IsSnapshot bool
}

// MetadataPublisher is the interface the driver exposes to LogMeta so it can
// be registered as a subscriber once recovery completes (§9: never register
// at construction time).
type MetadataPublisher interface {
	Name() string
	OnLeaderChange(leader LeaderAndEpoch)
	OnMetadataUpdate(delta MetadataDelta, image MetadataImage, manifest Manifest, completionCallback func(error))
	Close()
}
