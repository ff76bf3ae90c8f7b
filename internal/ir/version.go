package ir

// Version constants for the commit encoding and the tooling.
const (
	// FormatVersion is the commit record and export format version.
	FormatVersion = "1"

	// KernelVersion is the Axiom core version stamped into exports.
	KernelVersion = "0.3.0"
)
