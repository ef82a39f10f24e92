package logger

import "go.uber.org/zap"

// Field keys shared by every package that logs event-sourcing activity.
const (
	KeyAggregateID     = "aggregate_id"
	KeyAggregateType   = "aggregate_type"
	KeyEventType       = "event_type"
	KeyEventID         = "event_id"
	KeySeq             = "seq"
	KeyProcessingGroup = "processing_group"
	KeyPosition        = "position"
	KeySequenceKey     = "sequence_key"
	KeyStorageDriver   = "storage_driver"
	KeyGroups          = "processing_groups"
)

func AggregateID(id string) zap.Field { return zap.String(KeyAggregateID, id) }

func AggregateType(t string) zap.Field { return zap.String(KeyAggregateType, t) }

func EventType(t string) zap.Field { return zap.String(KeyEventType, t) }

func EventID(id string) zap.Field { return zap.String(KeyEventID, id) }

func Seq(seq int64) zap.Field { return zap.Int64(KeySeq, seq) }

func ProcessingGroup(group string) zap.Field { return zap.String(KeyProcessingGroup, group) }

// Position is a global position in the event log.
func Position(pos int64) zap.Field { return zap.Int64(KeyPosition, pos) }

func SequenceKey(key string) zap.Field { return zap.String(KeySequenceKey, key) }

func StorageDriver(driver string) zap.Field { return zap.String(KeyStorageDriver, driver) }

// ProcessingGroups lists the groups a process runs tracking processors for.
func ProcessingGroups(groups []string) zap.Field { return zap.Strings(KeyGroups, groups) }

// ForGroup returns a child logger tagged with a processing group.
func ForGroup(group string) *zap.Logger {
	return L().With(ProcessingGroup(group))
}
