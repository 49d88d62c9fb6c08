package redisx

import "time"

const (
	// Order read cache: order_cache:{order_id} -> hash {version, body}
	KeyOrderCache = "order_cache:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Pub/Sub channel carrying running totals: order_totals:{order_id}
	ChannelOrderTotals = "order_totals:%s"
	// Pattern the live hub subscribes to.
	PatternOrderTotals = "order_totals:*"
)

var (
	TTLOrderCache = 5 * time.Minute
	TTLDedup      = 48 * time.Hour
)
