// Package edi adapts ANSI X12 and UN/EDIFACT interchanges.
//
// The whole stream is parsed before anything is returned. Delimiters are taken
// from the interchange itself: the fixed-width ISA segment for X12, the UNA
// service string advice (or its defaults) for EDIFACT. Envelope structure and
// the control numbers and counts declared by every trailer are verified, and a
// violation fails the unit with a ParseError.
//
// Projection follows the ediroot layout: interchange, group and transaction
// elements carry envelope values as attributes; every body segment becomes a
// segment element holding element children named by position (BEG01, N102) and,
// for composites, subelement children numbered by Sequence.
package edi
