package logmeta

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/migrationdriver/pkg/migration"
	"github.com/hashicorp/raft"
)

// Command is one entry in the LogMeta replicated log, grounded on the
// teacher's op/json.RawMessage envelope (pkg/manager/fsm.go's Command).
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opCreateTopic     = "create_topic"
	opUpdateTopic     = "update_topic_partitions"
	opWriteConfigs    = "write_configs"
	opWriteQuotas     = "write_client_quotas"
	opWriteProducerID = "write_producer_id"
	opAddAcls         = "add_acls"
	opRemoveAcls      = "remove_acls"
	opSetFeatures     = "set_features"
	opSetBroker       = "set_broker"
	opReplayRecord    = "replay_record"
	opMigrationMarker = "migration_complete_marker"
)

// Image is the raft.FSM that materializes a migration.MetadataImage from
// the committed log. Grounded on pkg/manager/fsm.go's WarrenFSM: a
// mutex-guarded value rebuilt by Apply, snapshotted/restored as JSON.
type Image struct {
	mu        sync.RWMutex
	image     migration.MetadataImage
	migrating bool
	replayed  int

	publisherMu sync.RWMutex
	publisher   migration.MetadataPublisher
}

// NewImage creates an empty Image FSM.
func NewImage() *Image {
	return &Image{}
}

// Subscribe registers the driver as the MetadataPublisher notified of every
// subsequent committed change (spec's "never register at construction
// time" — the caller decides when, typically from InitialLoadCallback).
func (i *Image) Subscribe(publisher migration.MetadataPublisher) {
	i.publisherMu.Lock()
	defer i.publisherMu.Unlock()
	i.publisher = publisher
}

// Current returns a copy of the materialized image.
func (i *Image) Current() migration.MetadataImage {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.image
}

type topicCmd struct {
	ID         string                        `json:"id"`
	Name       string                        `json:"name"`
	Partitions migration.PartitionChanges    `json:"partitions"`
}

type updateTopicCmd struct {
	Changes map[string]migration.PartitionChanges `json:"changes"`
}

type configsCmd struct {
	Resource migration.ConfigResource `json:"resource"`
	Configs  map[string]string        `json:"configs"`
}

type quotasCmd struct {
	Entity migration.ClientQuotaEntity `json:"entity"`
	Quotas map[string]float64         `json:"quotas"`
}

type producerIDCmd struct {
	NextProducerID int64 `json:"next_producer_id"`
}

type aclsCmd struct {
	Pattern migration.ResourcePattern `json:"pattern"`
	Entries []migration.AclEntry      `json:"entries"`
}

type featuresCmd struct {
	Features migration.Features `json:"features"`
}

type brokerCmd struct {
	ID      int32 `json:"id"`
	Present bool  `json:"present"`
}

// Apply implements raft.FSM (spec's "LogMeta commits the record"). Each
// case mutates the image, builds the corresponding delta, bumps
// HighestOffsetAndEpoch to (log.Index, log.Term), and, outside bulk replay,
// notifies the subscribed publisher so dual-write mirroring fires.
func (i *Image) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("logmeta: unmarshal command: %w", err)
	}

	i.mu.Lock()
	var delta migration.MetadataDelta
	var applyErr error

	switch cmd.Op {
	case opCreateTopic:
		var c topicCmd
		applyErr = json.Unmarshal(cmd.Data, &c)
		if applyErr == nil {
			if i.image.Topics.ByID == nil {
				i.image.Topics.ByID = map[string]migration.TopicImage{}
			}
			i.image.Topics.ByID[c.ID] = migration.TopicImage{ID: c.ID, Name: c.Name, Partitions: c.Partitions}
			delta.TopicsDelta = &migration.TopicsDelta{
				ChangedTopicIDs: []string{c.ID},
				CreatedTopicIDs: map[string]bool{c.ID: true},
			}
		}

	case opUpdateTopic:
		var c updateTopicCmd
		applyErr = json.Unmarshal(cmd.Data, &c)
		if applyErr == nil {
			changedIDs := make([]string, 0, len(c.Changes))
			for name, partitions := range c.Changes {
				for id, topic := range i.image.Topics.ByID {
					if topic.Name == name {
						topic.Partitions = partitions
						i.image.Topics.ByID[id] = topic
						changedIDs = append(changedIDs, id)
					}
				}
			}
			if len(changedIDs) > 0 {
				delta.TopicsDelta = &migration.TopicsDelta{ChangedTopicIDs: changedIDs, CreatedTopicIDs: map[string]bool{}}
			}
		}

	case opWriteConfigs:
		var c configsCmd
		applyErr = json.Unmarshal(cmd.Data, &c)
		if applyErr == nil {
			if i.image.Configs.ByResource == nil {
				i.image.Configs.ByResource = map[migration.ConfigResource]map[string]string{}
			}
			i.image.Configs.ByResource[c.Resource] = c.Configs
			delta.ConfigsDelta = &migration.ConfigsDelta{ChangedResources: []migration.ConfigResource{c.Resource}}
		}

	case opWriteQuotas:
		var c quotasCmd
		applyErr = json.Unmarshal(cmd.Data, &c)
		if applyErr == nil {
			if i.image.ClientQuotas.ByEntity == nil {
				i.image.ClientQuotas.ByEntity = map[migration.ClientQuotaEntity]map[string]float64{}
			}
			i.image.ClientQuotas.ByEntity[c.Entity] = c.Quotas
			delta.ClientQuotasDelta = &migration.ClientQuotasDelta{ChangedEntities: []migration.ClientQuotaEntity{c.Entity}}
		}

	case opWriteProducerID:
		var c producerIDCmd
		applyErr = json.Unmarshal(cmd.Data, &c)
		if applyErr == nil {
			i.image.ProducerIDs.NextProducerID = c.NextProducerID
			delta.ProducerIDsDelta = &migration.ProducerIDsDelta{Changed: true, NextProducerID: c.NextProducerID}
		}

	case opAddAcls:
		var c aclsCmd
		applyErr = json.Unmarshal(cmd.Data, &c)
		if applyErr == nil {
			if i.image.Acls.ByPattern == nil {
				i.image.Acls.ByPattern = map[migration.ResourcePattern]map[string]migration.AclEntry{}
			}
			if i.image.Acls.ByPattern[c.Pattern] == nil {
				i.image.Acls.ByPattern[c.Pattern] = map[string]migration.AclEntry{}
			}
			changes := make([]migration.AclChange, 0, len(c.Entries))
			for _, entry := range c.Entries {
				entry := entry
				i.image.Acls.ByPattern[c.Pattern][entry.UUID] = entry
				changes = append(changes, migration.AclChange{Pattern: c.Pattern, UUID: entry.UUID, Entry: &entry})
			}
			delta.AclsDelta = &migration.AclsDelta{Changes: changes}
		}

	case opRemoveAcls:
		var c aclsCmd
		applyErr = json.Unmarshal(cmd.Data, &c)
		if applyErr == nil {
			changes := make([]migration.AclChange, 0, len(c.Entries))
			for _, entry := range c.Entries {
				delete(i.image.Acls.ByPattern[c.Pattern], entry.UUID)
				changes = append(changes, migration.AclChange{Pattern: c.Pattern, UUID: entry.UUID, Entry: nil})
			}
			delta.AclsDelta = &migration.AclsDelta{Changes: changes}
		}

	case opSetFeatures:
		var c featuresCmd
		applyErr = json.Unmarshal(cmd.Data, &c)
		if applyErr == nil {
			i.image.Features = c.Features
			delta.FeaturesDelta = &migration.FeaturesDelta{Changed: true}
		}

	case opSetBroker:
		var c brokerCmd
		applyErr = json.Unmarshal(cmd.Data, &c)
		if applyErr == nil {
			if i.image.Cluster.BrokerIDs == nil {
				i.image.Cluster.BrokerIDs = map[int32]bool{}
			}
			if c.Present {
				i.image.Cluster.BrokerIDs[c.ID] = true
			} else {
				delete(i.image.Cluster.BrokerIDs, c.ID)
			}
			delta.ClusterDelta = &migration.ClusterDelta{Changed: true}
		}

	case opReplayRecord:
		// Bulk-replay records are opaque payloads from LegacyStore; they
		// are counted but do not themselves change the materialized image
		// (the image is built from the ordinary ops above once the
		// migrated entities are re-announced through the broker protocol).
		i.replayed++

	case opMigrationMarker:
		// A no-op barrier: its only purpose is to occupy a committed log
		// position so CompleteMigration can report a well-defined
		// (offset, epoch) for every replay_record applied ahead of it.

	default:
		applyErr = fmt.Errorf("logmeta: unknown command %q", cmd.Op)
	}

	if applyErr == nil && cmd.Op != opReplayRecord && cmd.Op != opMigrationMarker {
		i.image.HighestOffsetAndEpoch = migration.OffsetAndEpoch{Offset: int64(log.Index), Epoch: int64(log.Term)}
	}
	newImage := i.image
	i.mu.Unlock()

	if applyErr != nil {
		return applyErr
	}

	if cmd.Op == opReplayRecord || cmd.Op == opMigrationMarker {
		return nil
	}

	i.publisherMu.RLock()
	publisher := i.publisher
	i.publisherMu.RUnlock()
	if publisher != nil {
		publisher.OnMetadataUpdate(delta, newImage, migration.Manifest{}, nil)
	}
	return nil
}

// Snapshot implements raft.FSM.
func (i *Image) Snapshot() (raft.FSMSnapshot, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return &imageSnapshot{image: i.image}, nil
}

// Restore implements raft.FSM.
func (i *Image) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var image migration.MetadataImage
	if err := json.NewDecoder(rc).Decode(&image); err != nil {
		return fmt.Errorf("logmeta: decode snapshot: %w", err)
	}
	i.mu.Lock()
	i.image = image
	i.mu.Unlock()
	return nil
}

type imageSnapshot struct {
	image migration.MetadataImage
}

func (s *imageSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.image); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *imageSnapshot) Release() {}
