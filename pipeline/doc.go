// Package pipeline drives transcoding runs.
//
// A Driver owns one format adapter, one lowering configuration and one emitter.
// Run pulls input units from a Source and moves through the states
//
//	Idle → FetchUnit → Parsing → Lowering → Emitting → (FetchUnit | Aborted | Done)
//
// for every native record a unit yields. The driver is the only place errors
// are caught: each caught error becomes exactly one failure envelope, and the
// configured Scope decides what happens next.
//
//	ScopeRecord  skip the failed record and keep reading the unit
//	ScopeUnit    drop the rest of the unit and fetch the next one
//	ScopeRun     stop the run; Run returns the error in state Aborted
//
// Whole-stream formats yield at most one record per unit, so record and unit
// scope behave the same for them. Errors that leave the stream unreadable
// (failed Parse calls, IOErrors) always end the unit. Empty units are skipped
// without a failure.
//
// Runs share no state. One Driver may serve several concurrent Run calls as
// long as its emitter is safe for concurrent use.
package pipeline
