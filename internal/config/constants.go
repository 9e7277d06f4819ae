package config

import "time"

// Gas limits used as EstimateGas fallbacks when the node cannot simulate the tx.
const (
	GasLimitApprove      = uint64(60_000)
	GasLimitPermit       = uint64(120_000)
	GasLimitTransferFrom = uint64(90_000)
)

// Timeout constants used across cmd and the flow controller.
const (
	RPCSelectTimeout = 10 * time.Second // endpoint benchmark / RPC selection
	ConnectTimeout   = 2 * time.Minute  // wallet may prompt the user
	TxConfirmTimeout = 3 * time.Minute  // standard transaction confirmation wait
	ReceiptPollEvery = 2 * time.Second
)

// DefaultToken is the demo ERC-20 token used when none is configured.
const DefaultToken = "0x4f34BF3352A701AEc924CE34d6CfC373eABb186c"

// DefaultTransferAmount is 10 tokens at 18 decimals.
const DefaultTransferAmount = "10000000000000000000"
