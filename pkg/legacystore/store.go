package legacystore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cuemby/migrationdriver/pkg/migration"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketTopics     = []byte("topics")
	bucketConfigs    = []byte("configs")
	bucketQuotas     = []byte("quotas")
	bucketProducerID = []byte("producer_id")
	bucketAcls       = []byte("acls")
	bucketBrokers    = []byte("brokers")
	bucketRecovery   = []byte("migration_recovery")
)

var recoveryKey = []byte("state")

// Store implements migration.MigrationClient against a bbolt-backed file,
// standing in for LegacyStore's znode tree.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the store's database under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "legacystore.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("legacystore: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTopics, bucketConfigs, bucketQuotas, bucketProducerID, bucketAcls, bucketBrokers, bucketRecovery} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// RegisterBroker records a legacy broker znode; it is not part of
// migration.MigrationClient, it is how a broker process announces itself to
// LegacyStore on startup, the same way CreateNode is how warren's worker
// joins announce themselves.
func (s *Store) RegisterBroker(id int32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBrokers).Put([]byte(strconv.FormatInt(int64(id), 10)), []byte{1})
	})
}

// DeregisterBroker removes a legacy broker znode.
func (s *Store) DeregisterBroker(id int32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBrokers).Delete([]byte(strconv.FormatInt(int64(id), 10)))
	})
}

type storedTopic struct {
	Name       string
	Partitions migration.PartitionChanges
}

func configKey(r migration.ConfigResource) string {
	return r.Type + "/" + r.Name
}

func quotaKey(e migration.ClientQuotaEntity) string {
	return e.User + "|" + e.ClientID + "|" + e.IP
}

func aclKey(pattern migration.ResourcePattern, uuid string) string {
	return pattern.Type + "/" + pattern.PatternType + "/" + pattern.Name + "/" + uuid
}

// GetOrCreateMigrationRecoveryState implements migration.MigrationClient.
func (s *Store) GetOrCreateMigrationRecoveryState() (migration.LeadershipState, error) {
	var state migration.LeadershipState
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecovery)
		data := b.Get(recoveryKey)
		if data == nil {
			state = migration.LeadershipState{LegacyEpochZkVersion: 0}
			encoded, err := json.Marshal(state)
			if err != nil {
				return err
			}
			return b.Put(recoveryKey, encoded)
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return migration.LeadershipState{}, wrapErr("get_or_create_recovery", err)
	}
	return state, nil
}

// SetMigrationRecoveryState implements migration.MigrationClient: it writes
// current with its cached zk version bumped by one, as every other write
// does, so the caller observes a consistent monotonic version.
func (s *Store) SetMigrationRecoveryState(current migration.LeadershipState) (migration.LeadershipState, error) {
	next := current
	next.LegacyEpochZkVersion++
	err := s.db.Update(func(tx *bolt.Tx) error {
		encoded, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRecovery).Put(recoveryKey, encoded)
	})
	if err != nil {
		return current, wrapErr("set_recovery_state", err)
	}
	return next, nil
}

// ClaimControllerLeadership implements migration.MigrationClient as a
// compare-and-swap on the cached zk version: the claim succeeds only if no
// other writer has touched the recovery state since current was observed.
// On a lost race it returns a LeadershipState with LegacyEpochZkVersion -1
// (the driver then stays in BECOME_CONTROLLER and retries on its next poll).
func (s *Store) ClaimControllerLeadership(current migration.LeadershipState) (migration.LeadershipState, error) {
	var result migration.LeadershipState
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecovery)
		data := b.Get(recoveryKey)
		var onDisk migration.LeadershipState
		if data != nil {
			if err := json.Unmarshal(data, &onDisk); err != nil {
				return err
			}
		}
		if onDisk.LegacyEpochZkVersion != current.LegacyEpochZkVersion {
			result = current
			result.LegacyEpochZkVersion = -1
			return nil
		}

		next := current
		next.LegacyControllerEpoch++
		next.LegacyEpochZkVersion++
		encoded, err := json.Marshal(next)
		if err != nil {
			return err
		}
		if err := b.Put(recoveryKey, encoded); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return current, wrapErr("claim_controller_leadership", err)
	}
	return result, nil
}

// ReadBrokerIDs implements migration.MigrationClient: it reads the set of
// legacy broker znodes directly.
func (s *Store) ReadBrokerIDs() (map[int32]bool, error) {
	out := map[int32]bool{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBrokers).ForEach(func(k, v []byte) error {
			id, err := strconv.ParseInt(string(k), 10, 32)
			if err != nil {
				return err
			}
			out[int32(id)] = true
			return nil
		})
	})
	if err != nil {
		return nil, wrapErr("read_broker_ids", err)
	}
	return out, nil
}

// ReadBrokerIDsFromTopicAssignments implements migration.MigrationClient: it
// derives broker membership from every replica listed in every topic's
// partition assignment, independent of the broker znode list.
func (s *Store) ReadBrokerIDsFromTopicAssignments() (map[int32]bool, error) {
	out := map[int32]bool{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTopics).ForEach(func(k, v []byte) error {
			var topic storedTopic
			if err := json.Unmarshal(v, &topic); err != nil {
				return err
			}
			for _, replicas := range topic.Partitions {
				for _, id := range replicas {
					out[id] = true
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, wrapErr("read_broker_ids_from_assignments", err)
	}
	return out, nil
}

// ReadAllMetadata implements migration.MigrationClient's bulk replay source
// (spec's §4.10): it streams each bucket as its own batch, in a fixed
// per-entity order, then reports every broker id it observed.
func (s *Store) ReadAllMetadata(batchSink func(migration.RecordBatch) error, brokerSink func(int32)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketTopics, bucketConfigs, bucketQuotas, bucketProducerID, bucketAcls} {
			b := tx.Bucket(name)
			var records []any
			if err := b.ForEach(func(k, v []byte) error {
				records = append(records, append([]byte(nil), v...))
				return nil
			}); err != nil {
				return err
			}
			if len(records) == 0 {
				continue
			}
			if err := batchSink(migration.RecordBatch{Records: records}); err != nil {
				return err
			}
		}

		brokers, err := s.readBrokerIDsFromTx(tx)
		if err != nil {
			return err
		}
		for id := range brokers {
			brokerSink(id)
		}
		return nil
	})
}

func (s *Store) readBrokerIDsFromTx(tx *bolt.Tx) (map[int32]bool, error) {
	out := map[int32]bool{}
	if err := tx.Bucket(bucketBrokers).ForEach(func(k, v []byte) error {
		id, err := strconv.ParseInt(string(k), 10, 32)
		if err != nil {
			return err
		}
		out[int32(id)] = true
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateTopic implements migration.MigrationClient.
func (s *Store) CreateTopic(name, id string, partitions migration.PartitionChanges, current migration.LeadershipState) (migration.LeadershipState, error) {
	return s.writeMirror(current, func(tx *bolt.Tx) error {
		encoded, err := json.Marshal(storedTopic{Name: name, Partitions: partitions})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTopics).Put([]byte(id), encoded)
	}, "create_topic")
}

// UpdateTopicPartitions implements migration.MigrationClient.
func (s *Store) UpdateTopicPartitions(changes map[string]migration.PartitionChanges, current migration.LeadershipState) (migration.LeadershipState, error) {
	return s.writeMirror(current, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTopics)
		for name, partitions := range changes {
			id, topic, err := findTopicByName(b, name)
			if err != nil {
				return err
			}
			topic.Partitions = partitions
			encoded, err := json.Marshal(topic)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(id), encoded); err != nil {
				return err
			}
		}
		return nil
	}, "update_topic_partitions")
}

func findTopicByName(b *bolt.Bucket, name string) (string, storedTopic, error) {
	var foundID string
	var foundTopic storedTopic
	err := b.ForEach(func(k, v []byte) error {
		var topic storedTopic
		if err := json.Unmarshal(v, &topic); err != nil {
			return err
		}
		if topic.Name == name {
			foundID = string(k)
			foundTopic = topic
		}
		return nil
	})
	if err != nil {
		return "", storedTopic{}, err
	}
	if foundID == "" {
		return "", storedTopic{}, fmt.Errorf("topic not found: %s", name)
	}
	return foundID, foundTopic, nil
}

// WriteConfigs implements migration.MigrationClient.
func (s *Store) WriteConfigs(resource migration.ConfigResource, configs map[string]string, current migration.LeadershipState) (migration.LeadershipState, error) {
	return s.writeMirror(current, func(tx *bolt.Tx) error {
		encoded, err := json.Marshal(configs)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketConfigs).Put([]byte(configKey(resource)), encoded)
	}, "write_configs")
}

// WriteClientQuotas implements migration.MigrationClient.
func (s *Store) WriteClientQuotas(entity migration.ClientQuotaEntity, quotas map[string]float64, current migration.LeadershipState) (migration.LeadershipState, error) {
	return s.writeMirror(current, func(tx *bolt.Tx) error {
		encoded, err := json.Marshal(quotas)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketQuotas).Put([]byte(quotaKey(entity)), encoded)
	}, "write_client_quotas")
}

// WriteProducerID implements migration.MigrationClient.
func (s *Store) WriteProducerID(nextProducerID int64, current migration.LeadershipState) (migration.LeadershipState, error) {
	return s.writeMirror(current, func(tx *bolt.Tx) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(nextProducerID))
		return tx.Bucket(bucketProducerID).Put([]byte("next"), buf)
	}, "write_producer_id")
}

// RemoveDeletedAcls implements migration.MigrationClient.
func (s *Store) RemoveDeletedAcls(pattern migration.ResourcePattern, entries []migration.AclEntry, current migration.LeadershipState) (migration.LeadershipState, error) {
	return s.writeMirror(current, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAcls)
		for _, entry := range entries {
			if err := b.Delete([]byte(aclKey(pattern, entry.UUID))); err != nil {
				return err
			}
		}
		return nil
	}, "remove_deleted_acls")
}

// WriteAddedAcls implements migration.MigrationClient.
func (s *Store) WriteAddedAcls(pattern migration.ResourcePattern, entries []migration.AclEntry, current migration.LeadershipState) (migration.LeadershipState, error) {
	return s.writeMirror(current, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAcls)
		for _, entry := range entries {
			encoded, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(aclKey(pattern, entry.UUID)), encoded); err != nil {
				return err
			}
		}
		return nil
	}, "write_added_acls")
}

// writeMirror runs write inside one bbolt transaction, gated by the same
// compare-and-swap ClaimControllerLeadership uses: it only applies write and
// bumps the cached zk version if the on-disk recovery state's version still
// matches current, so two writers racing on a stale LeadershipState cannot
// both succeed (I3). On a lost race it returns current with
// LegacyEpochZkVersion -1, the caller's signal to fall back to INACTIVE.
func (s *Store) writeMirror(current migration.LeadershipState, write func(tx *bolt.Tx) error, op string) (migration.LeadershipState, error) {
	var result migration.LeadershipState
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecovery)
		data := b.Get(recoveryKey)
		var onDisk migration.LeadershipState
		if data != nil {
			if err := json.Unmarshal(data, &onDisk); err != nil {
				return err
			}
		}
		if onDisk.LegacyEpochZkVersion != current.LegacyEpochZkVersion {
			result = current
			result.LegacyEpochZkVersion = -1
			return nil
		}

		if err := write(tx); err != nil {
			return err
		}

		next := current
		next.LegacyEpochZkVersion++
		encoded, err := json.Marshal(next)
		if err != nil {
			return err
		}
		if err := b.Put(recoveryKey, encoded); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return current, wrapErr(op, err)
	}
	return result, nil
}

// wrapErr classifies a bbolt failure per §7: an error whose text contains
// "permission denied" (a file-permission failure) becomes a
// MigrationClientAuthException; everything else is transient (disk/IO).
func wrapErr(op string, err error) error {
	if strings.Contains(err.Error(), "permission denied") {
		return &migration.MigrationClientAuthException{Op: op, Err: err}
	}
	return &migration.MigrationClientException{Op: op, Err: err}
}
