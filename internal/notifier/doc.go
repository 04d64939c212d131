// Package notifier delivers rendered digests to target destinations.
//
// A destination URL picks the channel by scheme: http and https post a
// Block Kit payload to a chat webhook, telegram sends a plain-text message
// through the Telegram Bot API.
//
// # Throttling
//
// Every send waits on one process-wide token bucket, then retries transient
// failures with jittered exponential backoff. Client errors (4xx other than
// 429) are not retried. A 429 answer is retried after its Retry-After hint.
//
// # History
//
// For debugging and operator visibility, the service keeps a small in-memory
// history of recent deliveries.
package notifier
