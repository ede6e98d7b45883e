// Package apiclient turns raw httpx calls into either a response payload or an
// *apierr.Error.
//
// Client decorates an *httpx.Client. Every call made through Client.Do passes
// the same classification:
//
//	no response   -> status 0, origin external, no code
//	400           -> INVALID_REQUEST, payload = response body
//	401           -> refresh credentials once and replay, or EXPIRED_TOKEN
//	404           -> NOT_FOUND
//	anything else -> INTERNAL_ERROR
//
// Credential refresh goes through the undecorated *httpx.Client, so a 401 from
// the refresh endpoint can never re-enter the pipeline. Concurrent 401s share
// a single refresh call. A replayed request that fails with 401 again is
// terminal.
package apiclient
