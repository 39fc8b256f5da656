package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// JobViewKey holds the JSON of a terminal job view. Only terminal views are cached.
func JobViewKey(jobID uuid.UUID) string {
	return fmt.Sprintf("finscan:job:%s:view", jobID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("finscan:ratelimit:%s", client)
}
