package config

import (
	"time"

	"github.com/spf13/viper"
)

type Transfer struct {
	// How long does it wait for a database query
	StoreTimeout time.Duration
}

func setTransferDefaults() {
	viper.SetDefault("Transfer.StoreTimeout", "30s")
}
