// Package transcoder turns legacy interchange formats into structured records.
//
// A unit of input (one file, one JetStream message) is parsed by a format
// adapter into native records, projected into a markup tree and lowered into
// a generic value tree. Each record is emitted as one envelope on the success
// sink; a record that cannot be parsed or converted becomes one failure
// envelope on the failure sink.
//
// # Formats
//
//   - hl7: HL7 v2 messages, segment per line, with escape decoding
//   - edi: ANSI X12 and UN/EDIFACT interchanges with envelope validation
//   - marc21: ISO 2709 bibliographic records
//   - delim: delimiter-separated text with configurable record and field separators
//   - xml: well-formed XML documents
//
// # Layout
//
//   - markup: the element tree every adapter projects into
//   - lower: markup to value-tree conversion (attributes, arrays, text nodes)
//   - format: the Adapter contract, the registry and one package per format
//   - pipeline: the per-format driver, its state machine and failure scopes
//   - output: the emitter and the file, NATS and key-value sinks
//   - input: file and JetStream sources
//   - config: layered JSON and YAML configuration with environment overrides
//   - natsclient, metric, health, errors, pkg/retry: shared infrastructure
//
// The cmd/transcoder binary wires these together.
package transcoder
