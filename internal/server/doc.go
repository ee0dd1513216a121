// Package server accepts TLS WebSocket clients and pushes a loaded media
// stream to each of them from a shared pacing ticker. Every client walks
// the same path: TLS handshake, WebSocket upgrade, media-offer
// negotiation, then paced delivery of encoded frames until either side
// closes. Raw elementary streams are paced one access unit per frame
// interval; container streams replay packets at their recorded
// timestamps. Both loop forever.
package server
