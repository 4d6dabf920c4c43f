package scribe

import "github.com/estuary/scribe/internal/checkpoint"

// Config carries every tunable spec.md §6 lists under "Configuration
// options". All fields default to their zero value except where
// DefaultConfig below states otherwise.
type Config struct {
	EnablePendingCheckpointMessages bool
	GenerateServiceSummary          bool

	ScrubUserDataInSummaries         bool
	ScrubUserDataInGlobalCheckpoints bool
	ScrubUserDataInLocalCheckpoints  bool

	ClearCacheAfterServiceSummary bool
	IgnoreStorageException        bool

	MaxTrackedServiceSummaryVersionsSinceLastClientSummary int
	MaxPendingCheckpointMessagesLength                     int

	Heuristics checkpoint.Heuristics

	KafkaCheckpointOnReprocessingOp bool
	RestartOnCheckpointFailure      bool
	LocalCheckpointEnabled          bool

	DisableTransientTenantFiltering bool
}

// DefaultConfig matches the teacher's convention of a constructor
// function alongside every configuration struct.
func DefaultConfig() Config {
	return Config{
		EnablePendingCheckpointMessages:                        true,
		GenerateServiceSummary:                                 true,
		ClearCacheAfterServiceSummary:                          false,
		IgnoreStorageException:                                 false,
		MaxTrackedServiceSummaryVersionsSinceLastClientSummary: 10,
		MaxPendingCheckpointMessagesLength:                     100,
		Heuristics:                                             checkpoint.DefaultHeuristics(),
		KafkaCheckpointOnReprocessingOp:                        false,
		RestartOnCheckpointFailure:                             false,
		LocalCheckpointEnabled:                                 true,
	}
}
