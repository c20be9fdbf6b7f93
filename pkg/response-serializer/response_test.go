package serializer

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestToBytesBodyIntact(t *testing.T) {
	response := `HTTP/1.1 200 OK
Server: Test

This is the body`

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		panic(err)
	}

	_, err = ToBytes(res)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if fmt.Sprintf("%s", body) != "This is the body" {
		t.Fatalf("Body: %s", body)
	}
}

func TestRoundTripPreservesStatusAndHeaders(t *testing.T) {
	response := `HTTP/1.1 503 Service Unavailable
Content-Type: application/json

{"error":"down"}`

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		panic(err)
	}
	bts, err := ToBytes(res)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}

	restored, err := FromBytes(bts)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if restored.StatusCode != 503 {
		t.Fatalf("Status is %d", restored.StatusCode)
	}
	if restored.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("Headers: %+v", restored.Header)
	}
	body, _ := io.ReadAll(restored.Body)
	if string(body) != `{"error":"down"}` {
		t.Fatalf("Body: %s", body)
	}
}

func TestFromBytesCorruptInput(t *testing.T) {
	if _, err := FromBytes([]byte("not an http response")); err == nil {
		t.Fatal("Corrupt bytes should not decode")
	}
}
