package types

// Version is the canonical project version.
// The CLI, the wire protocol and the receipt format share this version.
const Version = "0.3.0"

// ProtocolName identifies the wire protocol spoken by ferry peers.
const ProtocolName = "ferry/1"
