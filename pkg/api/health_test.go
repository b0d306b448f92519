package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/migrationdriver/pkg/migration"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopClient struct{}

func (noopClient) GetOrCreateMigrationRecoveryState() (migration.LeadershipState, error) {
	return migration.LeadershipState{}, nil
}
func (noopClient) ClaimControllerLeadership(current migration.LeadershipState) (migration.LeadershipState, error) {
	return current, nil
}
func (noopClient) SetMigrationRecoveryState(current migration.LeadershipState) (migration.LeadershipState, error) {
	return current, nil
}
func (noopClient) ReadBrokerIDs() (map[int32]bool, error)                   { return nil, nil }
func (noopClient) ReadBrokerIDsFromTopicAssignments() (map[int32]bool, error) { return nil, nil }
func (noopClient) ReadAllMetadata(batchSink func(migration.RecordBatch) error, brokerSink func(int32)) error {
	return nil
}
func (noopClient) CreateTopic(name, id string, partitions migration.PartitionChanges, current migration.LeadershipState) (migration.LeadershipState, error) {
	return current, nil
}
func (noopClient) UpdateTopicPartitions(changes map[string]migration.PartitionChanges, current migration.LeadershipState) (migration.LeadershipState, error) {
	return current, nil
}
func (noopClient) WriteConfigs(resource migration.ConfigResource, configs map[string]string, current migration.LeadershipState) (migration.LeadershipState, error) {
	return current, nil
}
func (noopClient) WriteClientQuotas(entity migration.ClientQuotaEntity, quotas map[string]float64, current migration.LeadershipState) (migration.LeadershipState, error) {
	return current, nil
}
func (noopClient) WriteProducerID(nextProducerID int64, current migration.LeadershipState) (migration.LeadershipState, error) {
	return current, nil
}
func (noopClient) RemoveDeletedAcls(pattern migration.ResourcePattern, entries []migration.AclEntry, current migration.LeadershipState) (migration.LeadershipState, error) {
	return current, nil
}
func (noopClient) WriteAddedAcls(pattern migration.ResourcePattern, entries []migration.AclEntry, current migration.LeadershipState) (migration.LeadershipState, error) {
	return current, nil
}

type noopConsumer struct{}

func (noopConsumer) BeginMigration() error { return nil }
func (noopConsumer) AcceptBatch(batch migration.RecordBatch) (*migration.BatchFuture, error) {
	future, resolve := migration.NewBatchFuture()
	resolve(nil)
	return future, nil
}
func (noopConsumer) CompleteMigration() (*migration.CompleteMigrationFuture, error) {
	future, resolve := migration.NewCompleteMigrationFuture()
	resolve(migration.OffsetAndEpoch{}, nil)
	return future, nil
}
func (noopConsumer) AbortMigration() {}

type noopPropagator struct{}

func (noopPropagator) SetMetadataVersion(version int32) {}
func (noopPropagator) SendRPCsToBrokersFromImage(image migration.MetadataImage, legacyControllerEpoch int64) {
}
func (noopPropagator) SendRPCsToBrokersFromDelta(delta migration.MetadataDelta, image migration.MetadataImage, legacyControllerEpoch int64) {
}

type noopQuorumFeatures struct{}

func (noopQuorumFeatures) ReasonAllControllersMigrationNotReady() (string, bool) { return "", false }

type noopFaultHandler struct{}

func (noopFaultHandler) HandleFault(msg string, cause error) {}

func newTestDriver(t *testing.T) *migration.Driver {
	t.Helper()
	d := migration.New(migration.Config{
		NodeID:         "node-1",
		Client:         noopClient{},
		Consumer:       noopConsumer{},
		Propagator:     noopPropagator{},
		QuorumFeatures: noopQuorumFeatures{},
		FaultHandler:   noopFaultHandler{},
		Logger:         zerolog.Nop(),
	})
	d.Start()
	t.Cleanup(d.Shutdown)
	return d
}

func TestHealthHandlerAlwaysHealthy(t *testing.T) {
	d := newTestDriver(t)
	hs := NewHealthServer(d, "test-version")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyHandlerReportsNotReadyWhileInactive(t *testing.T) {
	d := newTestDriver(t)
	hs := NewHealthServer(d, "test-version")

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(rec, req)

	// With no leader-change event delivered, the driver recovers into
	// INACTIVE and stays there, so readiness must report unavailable.
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStateHandlerReportsDriverState(t *testing.T) {
	d := newTestDriver(t)
	hs := NewHealthServer(d, "test-version")

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp StateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, string(migration.StateInactive), resp.State)
}

func TestReadyHandlerRejectsNonGet(t *testing.T) {
	d := newTestDriver(t)
	hs := NewHealthServer(d, "test-version")

	req := httptest.NewRequest(http.MethodPost, "/ready", nil)
	rec := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
