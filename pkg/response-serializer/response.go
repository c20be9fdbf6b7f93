// Package serializer converts HTTP responses to and from their wire bytes
// for storage in the cache. The stored form is the plain HTTP/1.1
// representation, so a stored entry can be inspected with standard tools.
package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
)

// ToBytes converts a response to its HTTP/1.1 byte representation.
// The response body is consumed and replaced, so the response stays
// usable after the call.
func ToBytes(res *http.Response) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, fmt.Errorf("write response: %w", err)
	}
	bts := buf.Bytes()
	// reading the serialized bytes back restores the consumed body
	clone, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(bts)), res.Request)
	if err != nil {
		return nil, fmt.Errorf("restore response body: %w", err)
	}
	res.Body = clone.Body
	return bts, nil
}

// FromBytes converts stored bytes back to an http.Response.
// An error means the stored bytes are corrupt; callers should treat that
// as a cache miss and discard the entry.
func FromBytes(b []byte) (*http.Response, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return nil, fmt.Errorf("read stored response: %w", err)
	}
	return res, nil
}
