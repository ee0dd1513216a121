// Package ws implements the server side of RFC 6455 WebSocket framing:
// the HTTP upgrade handshake and the frame codec. It works on raw byte
// slices and never touches the socket; TLS and session logic live in
// [github.com/zsiec/wscast/internal/server].
package ws
