// Package rate implements the per-(identifier, action) attempt counter that
// backs the public rate-limit API.
//
// # Window semantics
//
// Each key holds one [Record]: an attempt counter bound to a fixed counting
// window plus an optional block deadline. [Evaluate] is a pure projection of a
// record at a point in time; [Advance] computes the record that results from
// one more attempt. Stores persist records and serialize Advance per key.
//
// Redis keys use the prefix:
//   - rl:<action>:<identifier>: hash with attempts / window / block fields
//
// # What this package must NOT do
//
//   - Auto-delete records. Only window rollover or an explicit Clear resets one.
//   - Merge check and record into one atomic call.
//   - Be imported outside the sessionguard module.
package rate
