package legacystore

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/migrationdriver/pkg/migration"
	bolt "go.etcd.io/bbolt"
)

// RecoverySummary is a read-only snapshot of a legacystore database, used by
// the debug recovery-status command the way the teacher's warren-migrate
// tool inspects a bbolt bucket before deciding whether to act on it.
type RecoverySummary struct {
	Path          string
	Leadership    migration.LeadershipState
	TopicCount    int
	ConfigCount   int
	QuotaCount    int
	AclCount      int
	BrokerCount   int
	HasProducerID bool
}

// InspectRecoveryState opens dataDir's legacystore database read-only (via a
// bolt.Open with read-only mode, never mutating the file) and reports bucket
// record counts alongside the recovered LeadershipState, grounded on
// cmd/warren-migrate's "inspect before acting" bucket walk.
func InspectRecoveryState(dataDir string) (RecoverySummary, error) {
	dbPath := filepath.Join(dataDir, "legacystore.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return RecoverySummary{}, fmt.Errorf("legacystore: open database read-only: %w", err)
	}
	defer db.Close()

	summary := RecoverySummary{Path: dbPath}
	err = db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketRecovery); b != nil {
			if data := b.Get(recoveryKey); data != nil {
				if err := json.Unmarshal(data, &summary.Leadership); err != nil {
					return fmt.Errorf("decode recovery state: %w", err)
				}
			}
		}
		summary.TopicCount = countBucket(tx, bucketTopics)
		summary.ConfigCount = countBucket(tx, bucketConfigs)
		summary.QuotaCount = countBucket(tx, bucketQuotas)
		summary.AclCount = countBucket(tx, bucketAcls)
		summary.BrokerCount = countBucket(tx, bucketBrokers)
		if b := tx.Bucket(bucketProducerID); b != nil {
			summary.HasProducerID = b.Get([]byte("next")) != nil
		}
		return nil
	})
	if err != nil {
		return RecoverySummary{}, err
	}
	return summary, nil
}

func countBucket(tx *bolt.Tx, name []byte) int {
	b := tx.Bucket(name)
	if b == nil {
		return 0
	}
	count := 0
	_ = b.ForEach(func(k, v []byte) error {
		count++
		return nil
	})
	return count
}
