package migration

// LeaderAndEpoch identifies a LogMeta leader generation.
type LeaderAndEpoch struct {
	NodeID string
	Epoch  int64
}

// unknownLeader is the sentinel value before any leader-change event fires.
var unknownLeader = LeaderAndEpoch{Epoch: -1}

// MigrationFlag is the four-valued cluster readiness tag carried by Features.
type MigrationFlag string

const (
	MigrationFlagNone          MigrationFlag = "NONE"
	MigrationFlagPreMigration  MigrationFlag = "PRE_MIGRATION"
	MigrationFlagMigration     MigrationFlag = "MIGRATION"
	MigrationFlagPostMigration MigrationFlag = "POST_MIGRATION"
)

// Features is the feature-level view of a MetadataImage.
type Features struct {
	MetadataVersion int32
	MigrationFlag   MigrationFlag
}

// OffsetAndEpoch identifies a position in the LogMeta log.
type OffsetAndEpoch struct {
	Offset int64
	Epoch  int64
}

// Less reports whether o precedes other, comparing epoch then offset.
func (o OffsetAndEpoch) Less(other OffsetAndEpoch) bool {
	if o.Epoch != other.Epoch {
		return o.Epoch < other.Epoch
	}
	return o.Offset < other.Offset
}

// LessOrEqual reports o <= other under the same ordering as Less.
func (o OffsetAndEpoch) LessOrEqual(other OffsetAndEpoch) bool {
	return o == other || o.Less(other)
}

// PartitionChanges describes a topic's partition assignment as known to
// LogMeta; it is opaque beyond what LegacyStore needs to persist it.
type PartitionChanges map[int32][]int32

// TopicImage is one topic as materialized in a MetadataImage.
type TopicImage struct {
	ID         string
	Name       string
	Partitions PartitionChanges
}

// TopicsImage is the topics view of a MetadataImage, keyed by topic id.
type TopicsImage struct {
	ByID map[string]TopicImage
}

// ConfigResource identifies a LegacyStore-configurable entity.
type ConfigResource struct {
	Type string // "topic", "broker", "client-metrics"
	Name string
}

// ConfigsImage is the full configuration view of a MetadataImage.
type ConfigsImage struct {
	ByResource map[ConfigResource]map[string]string
}

// ClientQuotaEntity identifies a quota subject (user, client-id, ip, or a
// combination).
type ClientQuotaEntity struct {
	User     string
	ClientID string
	IP       string
}

// ClientQuotasImage is the full quota view of a MetadataImage.
type ClientQuotasImage struct {
	ByEntity map[ClientQuotaEntity]map[string]float64
}

// ProducerIdsImage tracks the next producer id block to allocate.
type ProducerIdsImage struct {
	NextProducerID int64
}

// ResourcePattern identifies the resource an ACL entry governs.
type ResourcePattern struct {
	Type       string
	Name       string
	PatternType string
}

// AclEntry is a single access-control entry.
type AclEntry struct {
	UUID       string
	Principal  string
	Host       string
	Operation  string
	Permission string
}

// AclsImage is the full ACL view of a MetadataImage, keyed by the pattern
// the entries apply to and then by entry id.
type AclsImage struct {
	ByPattern map[ResourcePattern]map[string]AclEntry
}

// ClusterImage is the broker-membership view of a MetadataImage.
type ClusterImage struct {
	// BrokerIDs maps broker id to whether it still carries the
	// "migrating-legacy-broker" marker used during §4.6's readiness check.
	BrokerIDs map[int32]bool
}

// Empty reports whether the cluster image carries no brokers at all.
func (c ClusterImage) Empty() bool {
	return len(c.BrokerIDs) == 0
}

// MetadataImage is the immutable snapshot published by LogMeta.
type MetadataImage struct {
	Features              Features
	Cluster               ClusterImage
	Topics                TopicsImage
	Configs               ConfigsImage
	ClientQuotas          ClientQuotasImage
	ProducerIDs           ProducerIdsImage
	Acls                  AclsImage
	HighestOffsetAndEpoch OffsetAndEpoch
}

// emptyMetadataImage is the initial value observed before any publish.
func emptyMetadataImage() MetadataImage {
	return MetadataImage{
		Topics:       TopicsImage{ByID: map[string]TopicImage{}},
		Configs:      ConfigsImage{ByResource: map[ConfigResource]map[string]string{}},
		ClientQuotas: ClientQuotasImage{ByEntity: map[ClientQuotaEntity]map[string]float64{}},
		Acls:         AclsImage{ByPattern: map[ResourcePattern]map[string]AclEntry{}},
	}
}

// TopicsDelta carries the ordered set of topic ids whose partition
// assignments changed in one publication, and which of those are brand new.
type TopicsDelta struct {
	// ChangedTopicIDs is in delta-insertion order, as required by P4.
	ChangedTopicIDs []string
	CreatedTopicIDs map[string]bool
}

// ConfigsDelta carries the ordered set of config resources that changed.
type ConfigsDelta struct {
	ChangedResources []ConfigResource
}

// ClientQuotasDelta carries the ordered set of quota entities that changed.
type ClientQuotasDelta struct {
	ChangedEntities []ClientQuotaEntity
}

// ProducerIDsDelta signals a new next-producer-id allocation.
type ProducerIDsDelta struct {
	Changed        bool
	NextProducerID int64
}

// AclChange is one changed ACL entry: Entry is nil when the entry was
// deleted in this delta (look up prevImage for the deleted value).
type AclChange struct {
	Pattern ResourcePattern
	UUID    string
	Entry   *AclEntry
}

// AclsDelta carries the ordered set of ACL entries that changed.
type AclsDelta struct {
	Changes []AclChange
}

// FeaturesDelta signals the feature set (and therefore metadata version)
// changed in this publication.
type FeaturesDelta struct {
	Changed bool
}

// ClusterDelta signals broker membership changed in this publication.
type ClusterDelta struct {
	Changed bool
}

// MetadataDelta is the incremental change set accompanying a new
// MetadataImage; any field may be nil if that dimension did not change.
type MetadataDelta struct {
	TopicsDelta       *TopicsDelta
	ConfigsDelta      *ConfigsDelta
	ClientQuotasDelta *ClientQuotasDelta
	ProducerIDsDelta  *ProducerIDsDelta
	AclsDelta         *AclsDelta
	FeaturesDelta     *FeaturesDelta
	ClusterDelta      *ClusterDelta
}
