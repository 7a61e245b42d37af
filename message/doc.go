// Package message defines the values that flow through a transcoding run: the
// input unit, its opaque header, the structured record produced by lowering, the
// failure record produced when a stage fails, and the envelope that pairs a
// header with exactly one of those payloads.
//
// Headers are passed through by reference and are never merged into a payload.
// Every envelope built from a unit carries that unit's original header value.
package message
