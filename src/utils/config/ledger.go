package config

import (
	"time"

	"github.com/spf13/viper"
)

type Ledger struct {
	// Base URL of the ledger node the service talks to
	NodeUrl string

	// Account that co-signs and pays the fees for every transfer
	FeePayerAccount string

	// How long does it wait for a single request to the ledger
	RequestTimeout time.Duration

	// Outbound requests per second. Protects the ledger node from bursts.
	RequestsPerSecond float64

	DialerTimeout       time.Duration
	DialerKeepAlive     time.Duration
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration

	// How often to check whether a submitted transfer got confirmed
	ConfirmPollInterval time.Duration
}

func setLedgerDefaults() {
	viper.SetDefault("Ledger.NodeUrl", "http://127.0.0.1:8899")
	viper.SetDefault("Ledger.FeePayerAccount", "")
	viper.SetDefault("Ledger.RequestTimeout", "30s")
	viper.SetDefault("Ledger.RequestsPerSecond", "10")
	viper.SetDefault("Ledger.DialerTimeout", "30s")
	viper.SetDefault("Ledger.DialerKeepAlive", "15s")
	viper.SetDefault("Ledger.IdleConnTimeout", "31s")
	viper.SetDefault("Ledger.TLSHandshakeTimeout", "10s")
	viper.SetDefault("Ledger.ConfirmPollInterval", "2s")
}
