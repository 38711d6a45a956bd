package config

import (
	"time"

	"github.com/spf13/viper"
)

type Batch struct {
	// Maximum number of batches processed in parallel
	NumBatchWorkers int

	// Maximum number of transfers sent to the ledger in parallel, per batch
	NumSendWorkers int

	// Maximum number of detail rows fetched from the database in one page
	PageSize int

	// Maximum number of detail rows inserted in one db statement
	BulkInsertLimit int

	// Maximum attempts for a single detail before it's permanently failed
	MaxRetryCount int

	// Wait between attempts for a single detail
	RetryDelay time.Duration

	// Grow the delay exponentially instead of keeping it flat
	RetryBackoffExponential bool

	// Upper bound for the grown delay
	RetryBackoffMaxInterval time.Duration

	// How long does it wait for a database query
	StoreTimeout time.Duration

	// Switch off listening for async notifications
	NotifierDisabled bool

	// How often to look for batches that didn't come through the
	// notification channel, e.g. because of a restart
	PollerInterval time.Duration
}

func setBatchDefaults() {
	viper.SetDefault("Batch.NumBatchWorkers", "2")
	viper.SetDefault("Batch.NumSendWorkers", "5")
	viper.SetDefault("Batch.PageSize", "100")
	viper.SetDefault("Batch.BulkInsertLimit", "1000")
	viper.SetDefault("Batch.MaxRetryCount", "3")
	viper.SetDefault("Batch.RetryDelay", "1s")
	viper.SetDefault("Batch.RetryBackoffExponential", "false")
	viper.SetDefault("Batch.RetryBackoffMaxInterval", "8s")
	viper.SetDefault("Batch.StoreTimeout", "30s")
	viper.SetDefault("Batch.NotifierDisabled", "false")
	viper.SetDefault("Batch.PollerInterval", "30s")
}
