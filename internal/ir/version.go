package ir

// Version constants for the definition format and engine.
const (
	// FormatVersion is the detector model definition format version.
	FormatVersion = "1"

	// EngineVersion is the tripwire engine version.
	EngineVersion = "0.1.0"
)
