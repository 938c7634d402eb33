package cache

import "fmt"

func ProgressKey(batchID string) string {
	return fmt.Sprintf("batch:%s:progress", batchID)
}

func BatchLockKey(batchID string) string {
	return fmt.Sprintf("batch:%s:lock", batchID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
