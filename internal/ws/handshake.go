package ws

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
)

// acceptGUID is the fixed GUID appended to the client key before
// hashing, per RFC 6455 section 4.2.2.
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var (
	// ErrNotHTTP means the request does not start with an HTTP GET.
	ErrNotHTTP = errors.New("ws: request is not an HTTP GET")

	// ErrNoWebSocketKey means the upgrade request has no
	// Sec-WebSocket-Key header.
	ErrNoWebSocketKey = errors.New("ws: missing Sec-WebSocket-Key header")
)

// IsHTTPRequest reports whether buf opens like an HTTP GET request.
// It needs only the first four bytes, so a client sending anything
// else can be rejected before its full header arrives.
func IsHTTPRequest(buf []byte) bool {
	return len(buf) >= 4 && string(buf[:4]) == "GET "
}

// Handshake parses a client upgrade request and returns the complete
// 101 Switching Protocols response to write back.
func Handshake(request []byte) ([]byte, error) {
	if !IsHTTPRequest(request) {
		return nil, ErrNotHTTP
	}
	key, ok := headerValue(request, "Sec-WebSocket-Key:")
	if !ok {
		return nil, ErrNoWebSocketKey
	}
	response := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n" +
		"\r\n"
	return []byte(response), nil
}

// AcceptKey derives the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// headerValue finds a header by its exact name (including the colon)
// and returns its value with surrounding spaces removed.
func headerValue(request []byte, name string) (string, bool) {
	i := bytes.Index(request, []byte(name))
	if i < 0 {
		return "", false
	}
	v := request[i+len(name):]
	for len(v) > 0 && v[0] == ' ' {
		v = v[1:]
	}
	if j := bytes.IndexAny(v, "\r\n"); j >= 0 {
		v = v[:j]
	}
	v = bytes.TrimRight(v, " ")
	return string(v), true
}
