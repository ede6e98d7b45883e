// Package httpx is the raw outbound transport used by apiclient:
//   - request building with base URL, default headers and an origin tag
//   - request id propagation
//   - optional rate limiting and retry with exponential backoff + jitter
//   - an error type carrying status, request id, retry-after and a limited body
//   - hook points for logging/metrics without hard dependencies
//
// A Client never classifies or re-authenticates. Calls made with Do are plain
// one-off network calls, which is what credential refresh relies on.
package httpx
