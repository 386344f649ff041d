// Package revocation records signed-out session token ids until the tokens
// would have expired anyway.
package revocation

import (
	"fmt"
	"time"

	"hrportal/pkg/platform/sentinel"
)

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	return nil
}
