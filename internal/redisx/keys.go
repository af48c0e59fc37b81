package redisx

import (
	"fmt"
	"time"
)

const (
	// order:{order_id} -> ProductOrder json
	KeyOrder = "order:%s"

	// idem:order:create:{user_id}:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

func OrderKey(orderID string) string { return fmt.Sprintf(KeyOrder, orderID) }

func IdemOrderCreateKey(scoped string) string { return fmt.Sprintf(KeyIdemOrderCreate, scoped) }

func DedupKey(service, eventID string) string { return fmt.Sprintf(KeyDedup, service, eventID) }
