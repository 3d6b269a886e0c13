package ir

const (
	// EncodingVersion identifies the canonical encoding of keys and
	// attribute objects. A store written under another version is rejected.
	EncodingVersion = "1"

	// EngineVersion is reported by the CLI.
	EngineVersion = "0.1.0"
)
