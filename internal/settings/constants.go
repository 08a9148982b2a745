package settings

// DB config keys and defaults for settings.
const (
	// RequestLogRetentionDaysKey overrides request-log.retention-days at runtime.
	RequestLogRetentionDaysKey = "REQUEST_LOG_RETENTION_DAYS"
	// RequestLogPruneBatchSizeKey controls how many log rows one prune batch deletes.
	RequestLogPruneBatchSizeKey = "REQUEST_LOG_PRUNE_BATCH_SIZE"
	// DecisionLogRetentionDaysKey controls how long advanced logic decisions are kept.
	DecisionLogRetentionDaysKey = "DECISION_LOG_RETENTION_DAYS"
	// DefaultRequestLogPruneBatchSize is the fallback prune batch size.
	DefaultRequestLogPruneBatchSize = 5000
	// DefaultDecisionLogRetentionDays is the fallback decision log retention.
	DefaultDecisionLogRetentionDays = 30
)

// KnownKeys lists the keys the admin API accepts.
var KnownKeys = []string{
	RequestLogRetentionDaysKey,
	RequestLogPruneBatchSizeKey,
	DecisionLogRetentionDaysKey,
}

// IsKnownKey reports whether key is an accepted setting key.
func IsKnownKey(key string) bool {
	for _, known := range KnownKeys {
		if known == key {
			return true
		}
	}
	return false
}
