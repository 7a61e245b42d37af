// Package file provides a sink that writes transcoded envelopes to disk.
//
// # Formats
//
//   - jsonl: one compact JSON envelope per line (default)
//   - json: indented JSON envelopes separated by newlines
//   - raw: flat payloads (markup or text) written byte for byte; record and
//     failure envelopes fall back to a JSON line
//
// The file is named <directory>/<file_prefix>.<format>. Writes are buffered
// until BufferSize envelopes are pending; Close flushes what remains.
//
// A typical run opens two sinks, one for records and one for failures:
//
//	records, _ := file.NewSink(file.Config{Directory: "out", FilePrefix: "records", Format: "jsonl", BufferSize: 100}, logger)
//	failures, _ := file.NewSink(file.Config{Directory: "out", FilePrefix: "failures", Format: "jsonl", BufferSize: 1}, logger)
//	emitter, _ := output.NewEmitter(records, failures)
package file
