/*
Package wire implements the fabric's one internal wire format: a 4-byte
little-endian length prefix followed by exactly that many payload bytes,
carrying a tagged Envelope record (spec §4.1, §6).

The payload is encoded by hand with the low-level AppendX and ReadXBytes
helpers from github.com/tinylib/msgp/msgp — the same primitives msgp's
code generator emits for MarshalMsg/UnmarshalMsg, used here directly
since the envelope's shape is small and fixed rather than generated. The
encoding is a closed, fixed-slot array per Envelope and per node
descriptor; the other nested types are written inline after a presence
flag. Every Kind round-trips through the same layout and Encode-then-Decode
is the identity for all of them (spec §8).

Framing and encoding are deliberately separate: ReadFrame/WriteFrame know
nothing about Envelope, and EncodeEnvelope/DecodeEnvelope know nothing
about sockets. The archival protocol (pkg/sink) is a different framing
entirely and does not use this package.
*/
package wire
