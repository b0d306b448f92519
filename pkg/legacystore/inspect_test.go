package legacystore

import (
	"testing"

	"github.com/cuemby/migrationdriver/pkg/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectRecoveryStateReportsBucketCounts(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	state, err := s.GetOrCreateMigrationRecoveryState()
	require.NoError(t, err)
	state, err = s.CreateTopic("orders", "topic-uuid-1", migration.PartitionChanges{0: {1}}, state)
	require.NoError(t, err)
	_, err = s.ClaimControllerLeadership(state)
	require.NoError(t, err)
	require.NoError(t, s.RegisterBroker(7))
	require.NoError(t, s.Close())

	summary, err := InspectRecoveryState(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TopicCount)
	assert.Equal(t, 1, summary.BrokerCount)
	assert.Equal(t, 0, summary.AclCount)
	assert.False(t, summary.HasProducerID)
	assert.Equal(t, int64(1), summary.Leadership.LegacyControllerEpoch)
}

func TestInspectRecoveryStateIsReadOnly(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = InspectRecoveryState(dir)
	require.NoError(t, err)

	// Reopening read-write afterward must still succeed: the inspection
	// must not have left the database locked or mutated.
	s2, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}
