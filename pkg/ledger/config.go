package ledger

import (
	"fmt"
	"time"
)

// Config contains the settings required to reach the ledger node and mirror.
type Config struct {
	// NodeURL is the base URL of the ledger gateway node (write path).
	NodeURL string
	// MirrorURL is the base URL of the mirror read replica.
	MirrorURL string
	// OperatorAccountID is the operator account that pays fees and holds
	// admin/supply/wipe authority over operator-treasury collections.
	OperatorAccountID AccountID
	// RequestTimeout bounds each HTTP call. The gateway itself never retries.
	RequestTimeout time.Duration
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("nil ledger config")
	}
	if c.NodeURL == "" {
		return fmt.Errorf("node URL is required")
	}
	if c.MirrorURL == "" {
		return fmt.Errorf("mirror URL is required")
	}
	if c.OperatorAccountID == "" {
		return fmt.Errorf("operator account ID is required")
	}
	return nil
}
