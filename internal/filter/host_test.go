package filter

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractHost_http(t *testing.T) {
	payload := []byte("GET /index.html HTTP/1.1\r\nHost: www.example.com:8080\r\nUser-Agent: test\r\n\r\n")

	host, ok := extractHost(payload)
	assert.True(t, ok)
	assert.Equal(t, "www.example.com", host)
}

func TestExtractHost_httpNoHost(t *testing.T) {
	payload := []byte("GET /index.html HTTP/1.1\r\nUser-Agent: test\r\n\r\n")

	_, ok := extractHost(payload)
	assert.False(t, ok)
}

func TestExtractHost_tlsClientHello(t *testing.T) {
	payload := buildClientHello(t, "example.com")

	host, ok := extractHost(payload)
	assert.True(t, ok)
	assert.Equal(t, "example.com", host)
}

func TestExtractHost_notRecognized(t *testing.T) {
	_, ok := extractHost([]byte{0x01, 0x02, 0x03})
	assert.False(t, ok)
}

// buildClientHello constructs a minimal, well-formed TLS ClientHello record
// carrying a single SNI host_name extension, mirroring the byte layout
// extractTLSSNI walks.
func buildClientHello(t *testing.T, host string) []byte {
	t.Helper()

	var handshakeBody bytes.Buffer

	handshakeBody.Write(make([]byte, 2))  // client version
	handshakeBody.Write(make([]byte, 32)) // random
	handshakeBody.WriteByte(0)            // session id length = 0

	// cipher suites: length 2, one suite
	binary.Write(&handshakeBody, binary.BigEndian, uint16(2))
	handshakeBody.Write([]byte{0x00, 0x2f})

	// compression methods: length 1, "null"
	handshakeBody.WriteByte(1)
	handshakeBody.WriteByte(0)

	// server_name extension
	var sniList bytes.Buffer
	sniList.WriteByte(0) // name type: host_name
	binary.Write(&sniList, binary.BigEndian, uint16(len(host)))
	sniList.WriteString(host)

	var sniExt bytes.Buffer
	binary.Write(&sniExt, binary.BigEndian, uint16(sniList.Len()))
	sniExt.Write(sniList.Bytes())

	var extensions bytes.Buffer
	binary.Write(&extensions, binary.BigEndian, uint16(0x0000)) // extension type: server_name
	binary.Write(&extensions, binary.BigEndian, uint16(sniExt.Len()))
	extensions.Write(sniExt.Bytes())

	binary.Write(&handshakeBody, binary.BigEndian, uint16(extensions.Len()))
	handshakeBody.Write(extensions.Bytes())

	var handshake bytes.Buffer
	handshake.WriteByte(tlsHandshakeTypeHello)
	length := handshakeBody.Len()
	handshake.Write([]byte{byte(length >> 16), byte(length >> 8), byte(length)})
	handshake.Write(handshakeBody.Bytes())

	var record bytes.Buffer
	record.WriteByte(tlsRecordTypeHandshake)
	record.Write([]byte{0x03, 0x03}) // TLS 1.2 record version
	binary.Write(&record, binary.BigEndian, uint16(handshake.Len()))
	record.Write(handshake.Bytes())

	return record.Bytes()
}
