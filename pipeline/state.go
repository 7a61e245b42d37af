package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/format"
	"github.com/c360/transcoder/lower"
)

// State is a step of the run state machine.
type State int

// Run states.
const (
	StateIdle State = iota
	StateFetchUnit
	StateParsing
	StateLowering
	StateEmitting
	StateAborted
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateFetchUnit:
		return "FetchUnit"
	case StateParsing:
		return "Parsing"
	case StateLowering:
		return "Lowering"
	case StateEmitting:
		return "Emitting"
	case StateAborted:
		return "Aborted"
	case StateDone:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the run has ended.
func (s State) Terminal() bool {
	return s == StateAborted || s == StateDone
}

// Scope is the failure-scope policy.
type Scope string

// Failure scopes.
const (
	ScopeRecord Scope = "record"
	ScopeUnit   Scope = "unit"
	ScopeRun    Scope = "run"
)

// ParseScope accepts a scope name, case-insensitively.
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(strings.ToLower(strings.TrimSpace(s))); sc {
	case ScopeRecord, ScopeUnit, ScopeRun:
		return sc, nil
	default:
		return "", errors.WrapInvalid(fmt.Errorf("unknown failure scope %q", s), "Scope", "Parse", "check name")
	}
}

// Payload selects what a success envelope carries.
type Payload string

// Payload modes.
const (
	// PayloadRecord lowers each record to a structured record.
	PayloadRecord Payload = "record"
	// PayloadMarkup serializes the projected markup as an XML document.
	PayloadMarkup Payload = "markup"
	// PayloadText emits the native text of formats that have one.
	PayloadText Payload = "text"
)

// Config is the per-format driver configuration.
type Config struct {
	Scope   Scope         `json:"failure_scope" yaml:"failure_scope"`
	Payload Payload       `json:"payload"       yaml:"payload"`
	Lower   lower.Options `json:"lower"         yaml:"lower"`
}

// DefaultConfig returns the configuration for a format. Every format defaults
// to unit scope; HL7 and EDI lower with array inference and all processing
// instructions.
func DefaultConfig(f format.Format) Config {
	rich := f == format.HL7 || f == format.EDI
	return Config{
		Scope:   ScopeUnit,
		Payload: PayloadRecord,
		Lower: lower.Options{
			AutoArray:                  rich,
			MultiProcessingInstruction: rich,
			MaxDepth:                   lower.DefaultMaxDepth,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := ParseScope(string(c.Scope)); err != nil {
		return err
	}
	switch c.Payload {
	case PayloadRecord, PayloadMarkup, PayloadText:
	default:
		return errors.WrapInvalid(fmt.Errorf("unknown payload %q: %w", c.Payload, errors.ErrInvalidConfig),
			"Config", "Validate", "check payload")
	}
	if c.Lower.MaxDepth < 0 {
		return errors.WrapInvalid(fmt.Errorf("max_depth cannot be negative: %w", errors.ErrInvalidConfig),
			"Config", "Validate", "check lowering options")
	}
	return nil
}

// Result summarizes a run.
type Result struct {
	State    State
	Units    int
	Records  int
	Failures int
	Skipped  int
	Duration time.Duration
}
