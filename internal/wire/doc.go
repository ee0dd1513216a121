// Package wire implements the binary framing protocol that carries
// media to clients: a 20-byte big-endian fixed header, optional
// fragment, common, and type-specific extensions, and the payload.
// Payloads above FragmentThreshold are split into fragments that the
// Decoder reassembles in any arrival order.
//
// This package contains no transport or session logic; those
// higher-level concerns live in [github.com/zsiec/wscast/internal/server].
package wire
