package cache

import (
	"fmt"
)

func JobKey(jobID string) string {
	return fmt.Sprintf("renderpipe:job:%s", jobID)
}

// RateLimitKey identifies the request counter of one client.
func RateLimitKey(client string) string {
	return fmt.Sprintf("renderpipe:ratelimit:%s", client)
}
