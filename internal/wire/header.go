// Package wire implements the JSON-RPC envelope types and the bounded
// header peek that lets the consumer route a message before its body has
// even finished decoding.
package wire

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
)

// ErrorRecord is the error object embedded in a response-shaped header.
type ErrorRecord struct {
	Code    int32  `json:"code"`
	Message string `json:"message,omitempty"`
}

// Header is the routing metadata parsed from the leading bytes of an
// envelope: enough to tell a response from a notification and to find the
// waiter a message belongs to, without decoding the rest of the body.
type Header struct {
	ID     string
	Method string
	Error  *ErrorRecord
}

// IsNotify reports whether the header has the notify shape (id + method).
func (h Header) IsNotify() bool {
	return h.Method != ""
}

// IsResponse reports whether the header has the response shape (id, maybe
// error, no method).
func (h Header) IsResponse() bool {
	return h.ID != "" && h.Method == ""
}

// PeekHeader scans up to maxBytes of data as a token stream, pulling out
// "id", "method" and "error" without requiring the buffer to hold a
// complete, well-formed JSON document. It tolerates truncation: if the
// buffer is cut off mid-value, whatever fields were already found are kept
// and scanning simply stops, rather than failing the whole peek. ok is
// false only when no "id" field could be located at all within the window.
func PeekHeader(data []byte, maxBytes int) (Header, bool) {
	if maxBytes > 0 && len(data) > maxBytes {
		data = data[:maxBytes]
	}

	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return Header{}, false
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return Header{}, false
	}

	var h Header
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			break
		}
		key, _ := keyTok.(string)

		switch key {
		case "id":
			var v string
			if err := dec.Decode(&v); err != nil {
				// id present but not a plain string (e.g. truncated, or
				// null/number); stop scanning rather than guess.
				return h, h.ID != ""
			}
			h.ID = v
		case "method":
			var v string
			if err := dec.Decode(&v); err != nil {
				return h, h.ID != ""
			}
			h.Method = v
		case "error":
			var rec ErrorRecord
			if err := dec.Decode(&rec); err != nil {
				return h, h.ID != ""
			}
			h.Error = &rec
		default:
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return h, h.ID != ""
			}
		}
	}

	return h, h.ID != ""
}

// GenerateID returns n random bytes rendered as lowercase hex, the
// correlation id format mandated for request envelopes.
func GenerateID(n int) (string, error) {
	if n <= 0 {
		n = 9
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
