// Package model defines shared data types used across the sports trader.
//
// Conventions:
//   - Prices: integer hundred-thousandths (0-100,000 = $0.00-$1.00)
//   - Timestamps: int64 microseconds since Unix epoch for venue data,
//     time.Time for local receive/processing times
//   - IDs: venue token id strings for markets, uuid strings for orders
package model
