package config

import (
	"github.com/spf13/viper"
)

type Crypt struct {
	// Hex-encoded 256 bit key sealing recipient accounts at rest
	RecipientAccountKey string
}

func setCryptDefaults() {
	viper.SetDefault("Crypt.RecipientAccountKey", "")
}
