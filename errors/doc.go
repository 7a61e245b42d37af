// Package errors provides standardized error handling for transcoder components.
//
// # Overview
//
// Every error raised by a transcoding stage carries two independent labels:
//
//   - Class: how the error should be handled (Transient, Invalid, Fatal)
//   - Kind: which stage produced it (ParseError, ConversionError, IOError)
//
// The pipeline driver is the only place that catches errors. It reads the Kind to
// fill the failure record's "kind" field and the Class to decide the resolution
// hint: Invalid and Fatal errors resolve as defects, Transient errors as transient.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Kind-aware wrappers used by the format adapters and the lowering engine:
//
//	errors.WrapParse(err, "HL7Reader", "Next", "parse MSH")        // Invalid + ParseError
//	errors.WrapConversion(err, "Lowerer", "Lower", "lower node")   // Invalid + ConversionError
//	errors.WrapIO(err, "EDIParser", "Parse", "read stream")        // Transient + IOError
//
// Class-only wrappers remain for infrastructure code:
//
//	errors.WrapTransient(err, "Client", "Connect", "dial")
//	errors.WrapInvalid(err, "Config", "Validate", "check format")
//	errors.WrapFatal(err, "Output", "Start", "open file")
//
// # Inspecting Errors
//
//	errors.KindOf(err)    // outermost Kind in the chain
//	errors.RootCause(err) // innermost error, used as the failure "reason"
//	errors.Classify(err)  // Transient, Invalid or Fatal
//
// ClassifiedError supports errors.Is and errors.As through Unwrap, so standard
// error variables such as ErrTruncated remain detectable after wrapping.
package errors
