// Package api provides the venue REST client used for market discovery,
// book snapshot resync, and order submission.
//
// REST endpoint:
//   - Production: https://clob.polymarket.com
//
// Order submission is deliberately single-shot: a timed-out POST may
// still have matched, so it is never retried.
package api
