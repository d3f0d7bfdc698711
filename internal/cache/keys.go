package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func IncidentKey(id uuid.UUID) string {
	return fmt.Sprintf("incident:%s", id)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
