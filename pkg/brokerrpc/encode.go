package brokerrpc

import (
	"fmt"

	"github.com/cuemby/migrationdriver/pkg/migration"
	"google.golang.org/protobuf/types/known/structpb"
)

// imageToStruct encodes a full metadata image as the payload for an
// UpdateMetadataRequest-equivalent RPC telling a broker everything it needs
// to know about cluster state in one shot.
func imageToStruct(image migration.MetadataImage, legacyControllerEpoch int64, metadataVersion int32) *structpb.Struct {
	fields := map[string]interface{}{
		"kind":                    "full_image",
		"legacy_controller_epoch": float64(legacyControllerEpoch),
		"metadata_version":        float64(metadataVersion),
		"migration_flag":          string(image.Features.MigrationFlag),
		"topics":                  topicsToValue(image.Topics),
		"configs":                 configsToValue(image.Configs),
		"client_quotas":           quotasToValue(image.ClientQuotas),
		"producer_id":             float64(image.ProducerIDs.NextProducerID),
		"acls":                    aclsToValue(image.Acls),
		"broker_ids":              brokerIDsToValue(image.Cluster.BrokerIDs),
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		// Every value above is a plain string/float64/map/slice, so NewStruct
		// cannot fail; the empty-struct fallback only satisfies the error return.
		return &structpb.Struct{}
	}
	return s
}

// deltaToStruct encodes the names of the groups that changed, together with
// the post-change image's topics and broker ids (not its configs, quotas,
// producer id or ACLs), so a broker applying the delta out of order can
// still reconcile its topic and broker view.
func deltaToStruct(delta migration.MetadataDelta, image migration.MetadataImage, legacyControllerEpoch int64, metadataVersion int32) *structpb.Struct {
	changed := make([]interface{}, 0, 7)
	if delta.TopicsDelta != nil {
		changed = append(changed, "topics")
	}
	if delta.ConfigsDelta != nil {
		changed = append(changed, "configs")
	}
	if delta.ClientQuotasDelta != nil {
		changed = append(changed, "client_quotas")
	}
	if delta.ProducerIDsDelta != nil && delta.ProducerIDsDelta.Changed {
		changed = append(changed, "producer_id")
	}
	if delta.AclsDelta != nil {
		changed = append(changed, "acls")
	}
	if delta.FeaturesDelta != nil {
		changed = append(changed, "features")
	}
	if delta.ClusterDelta != nil {
		changed = append(changed, "cluster")
	}

	fields := map[string]interface{}{
		"kind":                    "delta",
		"changed":                 changed,
		"legacy_controller_epoch": float64(legacyControllerEpoch),
		"metadata_version":        float64(metadataVersion),
		"migration_flag":          string(image.Features.MigrationFlag),
		"topics":                  topicsToValue(image.Topics),
		"broker_ids":              brokerIDsToValue(image.Cluster.BrokerIDs),
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return &structpb.Struct{}
	}
	return s
}

func topicsToValue(topics migration.TopicsImage) map[string]interface{} {
	out := make(map[string]interface{}, len(topics.ByID))
	for id, topic := range topics.ByID {
		partitions := make(map[string]interface{}, len(topic.Partitions))
		for partitionID, replicas := range topic.Partitions {
			partitions[fmt.Sprintf("%d", partitionID)] = int32SliceToValue(replicas)
		}
		out[id] = map[string]interface{}{
			"name":       topic.Name,
			"partitions": partitions,
		}
	}
	return out
}

func configsToValue(configs migration.ConfigsImage) []interface{} {
	out := make([]interface{}, 0, len(configs.ByResource))
	for resource, values := range configs.ByResource {
		entries := make(map[string]interface{}, len(values))
		for k, v := range values {
			entries[k] = v
		}
		out = append(out, map[string]interface{}{
			"resource_type": resource.Type,
			"resource_name": resource.Name,
			"configs":       entries,
		})
	}
	return out
}

func quotasToValue(quotas migration.ClientQuotasImage) []interface{} {
	out := make([]interface{}, 0, len(quotas.ByEntity))
	for entity, values := range quotas.ByEntity {
		entries := make(map[string]interface{}, len(values))
		for k, v := range values {
			entries[k] = v
		}
		out = append(out, map[string]interface{}{
			"user":      entity.User,
			"client_id": entity.ClientID,
			"ip":        entity.IP,
			"quotas":    entries,
		})
	}
	return out
}

func aclsToValue(acls migration.AclsImage) []interface{} {
	out := make([]interface{}, 0, len(acls.ByPattern))
	for pattern, entries := range acls.ByPattern {
		encoded := make([]interface{}, 0, len(entries))
		for _, entry := range entries {
			encoded = append(encoded, map[string]interface{}{
				"uuid":       entry.UUID,
				"principal":  entry.Principal,
				"host":       entry.Host,
				"operation":  entry.Operation,
				"permission": entry.Permission,
			})
		}
		out = append(out, map[string]interface{}{
			"resource_type": pattern.Type,
			"resource_name": pattern.Name,
			"pattern_type":  pattern.PatternType,
			"entries":       encoded,
		})
	}
	return out
}

func brokerIDsToValue(brokerIDs map[int32]bool) []interface{} {
	out := make([]interface{}, 0, len(brokerIDs))
	for id := range brokerIDs {
		out = append(out, float64(id))
	}
	return out
}

func int32SliceToValue(values []int32) []interface{} {
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		out = append(out, float64(v))
	}
	return out
}
