package migration

import (
	"errors"
	"fmt"

	"github.com/cuemby/migrationdriver/pkg/metrics"
)

// errMirrorConditionalUpdateFailed signals that a mirror write lost its
// compare-and-swap against LegacyStore's cached zk version (I3): another
// writer holds the znode, so the driver can no longer claim to be dual
// writing and must fall back to INACTIVE.
var errMirrorConditionalUpdateFailed = errors.New("migration: legacystore conditional update failed")

// applyMirror wraps one LegacyStore mirror write in its own applyLeadership
// call so the cached znode version is refreshed between writes (§4.12),
// and records it against the dual-write mirror metric by kind. A lost
// compare-and-swap (LegacyEpochZkVersion == -1, the same sentinel
// becomeLegacyControllerEvent checks for its own claim) drives the driver
// back to INACTIVE instead of continuing to mirror against a stale version.
func (d *Driver) applyMirror(kind string, f LeadershipMutator) error {
	next, err := applyLeadership(d.logger, kind, d.leadership, f)
	if err != nil {
		metrics.LegacyStoreErrorsTotal.WithLabelValues(classifyStoreError(err)).Inc()
		return err
	}
	d.leadership = next

	if next.LegacyEpochZkVersion == -1 {
		metrics.LegacyStoreErrorsTotal.WithLabelValues("conditional_update_failed").Inc()
		d.logger.Warn().Str("kind", kind).Msg("mirror write lost conditional update, falling back to inactive")
		if err := d.transition(StateInactive); err != nil {
			return err
		}
		return errMirrorConditionalUpdateFailed
	}

	metrics.DualWriteMirrorsTotal.WithLabelValues(kind).Inc()
	return nil
}

func classifyStoreError(err error) string {
	var authErr *MigrationClientAuthException
	var storeErr *MigrationClientException
	switch {
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &storeErr):
		return "transient"
	default:
		return "unknown"
	}
}

// metadataChangeEvent is the §4.12 dual-write handler. It always absorbs
// the event for the purposes of firstPublish and image, even outside
// DUAL_WRITE (the state machine needs a fresh image the moment it re-enters
// DUAL_WRITE).
func (d *Driver) metadataChangeEvent(delta MetadataDelta, newImage MetadataImage, manifest Manifest, completionCallback func(error)) (err error) {
	d.firstPublish = true
	prevImage := d.image
	d.image = newImage

	defer func() {
		if completionCallback != nil {
			completionCallback(err)
		}
	}()

	if d.state != StateDualWrite {
		return nil
	}

	if delta.FeaturesDelta != nil {
		d.propagator.SetMetadataVersion(newImage.Features.MetadataVersion)
	}

	replayed := OffsetAndEpoch{Offset: d.leadership.ReplayedOffset, Epoch: d.leadership.ReplayedEpoch}
	if newImage.HighestOffsetAndEpoch.LessOrEqual(replayed) {
		d.logger.Debug().Msg("delta already mirrored into legacystore, skipping")
	} else if err = d.mirrorDelta(delta, newImage, prevImage); err != nil {
		return err
	}

	if delta.TopicsDelta != nil || delta.ClusterDelta != nil {
		d.propagator.SendRPCsToBrokersFromDelta(delta, newImage, d.leadership.LegacyControllerEpoch)
	}

	return nil
}

// mirrorDelta applies the five mirror groups in the exact order required by
// P4: topics -> configs -> quotas -> producer-id -> ACLs, with deletions
// preceding additions within ACLs.
func (d *Driver) mirrorDelta(delta MetadataDelta, newImage, prevImage MetadataImage) error {
	if delta.TopicsDelta != nil {
		if err := d.mirrorTopics(delta.TopicsDelta, newImage); err != nil {
			return err
		}
	}
	if delta.ConfigsDelta != nil {
		if err := d.mirrorConfigs(delta.ConfigsDelta, newImage); err != nil {
			return err
		}
	}
	if delta.ClientQuotasDelta != nil {
		if err := d.mirrorClientQuotas(delta.ClientQuotasDelta, newImage); err != nil {
			return err
		}
	}
	if delta.ProducerIDsDelta != nil && delta.ProducerIDsDelta.Changed {
		if err := d.mirrorProducerID(delta.ProducerIDsDelta); err != nil {
			return err
		}
	}
	if delta.AclsDelta != nil {
		if err := d.mirrorAcls(delta.AclsDelta, prevImage); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) mirrorTopics(topicsDelta *TopicsDelta, newImage MetadataImage) error {
	for _, id := range topicsDelta.ChangedTopicIDs {
		topic, ok := newImage.Topics.ByID[id]
		if !ok {
			continue
		}
		id, topic := id, topic
		if topicsDelta.CreatedTopicIDs[id] {
			if err := d.applyMirror("topics", func(s LeadershipState) (LeadershipState, error) {
				return d.client.CreateTopic(topic.Name, id, topic.Partitions, s)
			}); err != nil {
				return err
			}
			continue
		}
		if err := d.applyMirror("topics", func(s LeadershipState) (LeadershipState, error) {
			return d.client.UpdateTopicPartitions(map[string]PartitionChanges{topic.Name: topic.Partitions}, s)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) mirrorConfigs(configsDelta *ConfigsDelta, newImage MetadataImage) error {
	for _, resource := range configsDelta.ChangedResources {
		resource := resource
		full := newImage.Configs.ByResource[resource]
		if err := d.applyMirror("configs", func(s LeadershipState) (LeadershipState, error) {
			return d.client.WriteConfigs(resource, full, s)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) mirrorClientQuotas(quotasDelta *ClientQuotasDelta, newImage MetadataImage) error {
	for _, entity := range quotasDelta.ChangedEntities {
		entity := entity
		full := newImage.ClientQuotas.ByEntity[entity]
		if err := d.applyMirror("quotas", func(s LeadershipState) (LeadershipState, error) {
			return d.client.WriteClientQuotas(entity, full, s)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) mirrorProducerID(producerDelta *ProducerIDsDelta) error {
	return d.applyMirror("producer_id", func(s LeadershipState) (LeadershipState, error) {
		return d.client.WriteProducerID(producerDelta.NextProducerID, s)
	})
}

// mirrorAcls implements step 4.e of §4.12: deletions are resolved against
// prevImage (a deletion whose uuid was never observed is fatal), then all
// deletions are written before any additions, per pattern, in the order
// patterns first appeared in the delta.
func (d *Driver) mirrorAcls(aclsDelta *AclsDelta, prevImage MetadataImage) error {
	var patternOrder []ResourcePattern
	seenPattern := map[ResourcePattern]bool{}
	deleted := map[ResourcePattern][]AclEntry{}
	added := map[ResourcePattern][]AclEntry{}

	for _, change := range aclsDelta.Changes {
		if !seenPattern[change.Pattern] {
			seenPattern[change.Pattern] = true
			patternOrder = append(patternOrder, change.Pattern)
		}
		if change.Entry == nil {
			prev, ok := prevImage.Acls.ByPattern[change.Pattern][change.UUID]
			if !ok {
				return fmt.Errorf("migration: cannot delete unseen acl %s on pattern %+v", change.UUID, change.Pattern)
			}
			deleted[change.Pattern] = append(deleted[change.Pattern], prev)
			continue
		}
		added[change.Pattern] = append(added[change.Pattern], *change.Entry)
	}

	for _, pattern := range patternOrder {
		entries := deleted[pattern]
		if len(entries) == 0 {
			continue
		}
		pattern, entries := pattern, entries
		if err := d.applyMirror("acls", func(s LeadershipState) (LeadershipState, error) {
			return d.client.RemoveDeletedAcls(pattern, entries, s)
		}); err != nil {
			return err
		}
	}
	for _, pattern := range patternOrder {
		entries := added[pattern]
		if len(entries) == 0 {
			continue
		}
		pattern, entries := pattern, entries
		if err := d.applyMirror("acls", func(s LeadershipState) (LeadershipState, error) {
			return d.client.WriteAddedAcls(pattern, entries, s)
		}); err != nil {
			return err
		}
	}
	return nil
}
