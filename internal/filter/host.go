package filter

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"strings"
)

// httpMethods is the fixed prefix list spec.md §4.5 step 3 recognizes as
// plaintext HTTP.
var httpMethods = []string{"GET ", "POST ", "HEAD ", "PUT ", "OPTIONS "}

// extractHost implements spec.md §4.5 step 3: pull a Host/SNI value out of a
// TCP payload, trying plaintext HTTP first, then a TLS ClientHello. Returns
// ok=false if neither shape matches.
func extractHost(payload []byte) (host string, ok bool) {
	for _, m := range httpMethods {
		if bytes.HasPrefix(payload, []byte(m)) {
			return extractHTTPHost(payload)
		}
	}

	return extractTLSSNI(payload)
}

// extractHTTPHost scans payload's header lines for the first "host:" line
// (case-insensitive), returning its value with any ":port" suffix removed.
func extractHTTPHost(payload []byte) (string, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(payload))

	for scanner.Scan() {
		line := scanner.Text()

		const prefix = "host:"
		if len(line) < len(prefix) || !strings.EqualFold(line[:len(prefix)], prefix) {
			continue
		}

		value := strings.TrimSpace(line[len(prefix):])
		if i := strings.LastIndex(value, ":"); i != -1 {
			value = value[:i]
		}

		return strings.ToLower(value), value != ""
	}

	return "", false
}

// TLS record/handshake type bytes relevant to ClientHello detection.
const (
	tlsRecordTypeHandshake = 0x16
	tlsHandshakeTypeHello  = 0x01
	sniExtensionType       = 0x0000
	sniHostNameType        = 0x00
)

// extractTLSSNI recognizes a ClientHello by its record/handshake type
// bytes, skips the record header (5), handshake header (4), version+random
// (2+32), then the variable-length session ID, cipher suites, and
// compression methods, and walks the extensions list for the SNI
// server_name entry.
func extractTLSSNI(payload []byte) (string, bool) {
	// Record header (5 bytes): type, version (2), length (2).
	if len(payload) < 5 || payload[0] != tlsRecordTypeHandshake {
		return "", false
	}

	body := payload[5:]

	// Handshake header (4 bytes): type (1), length (3).
	if len(body) < 4 || body[0] != tlsHandshakeTypeHello {
		return "", false
	}

	body = body[4:]

	// ClientHello: version (2) + random (32).
	if len(body) < 34 {
		return "", false
	}

	body = body[34:]

	// Session ID: 1-byte length prefix + contents.
	if len(body) < 1 {
		return "", false
	}

	sidLen := int(body[0])
	body = body[1:]

	if len(body) < sidLen {
		return "", false
	}

	body = body[sidLen:]

	// Cipher suites: 2-byte length prefix + contents.
	if len(body) < 2 {
		return "", false
	}

	csLen := int(binary.BigEndian.Uint16(body))
	body = body[2:]

	if len(body) < csLen {
		return "", false
	}

	body = body[csLen:]

	// Compression methods: 1-byte length prefix + contents.
	if len(body) < 1 {
		return "", false
	}

	cmLen := int(body[0])
	body = body[1:]

	if len(body) < cmLen {
		return "", false
	}

	body = body[cmLen:]

	// Extensions: 2-byte total length prefix, then a sequence of
	// (type uint16, length uint16, data).
	if len(body) < 2 {
		return "", false
	}

	extTotal := int(binary.BigEndian.Uint16(body))
	body = body[2:]

	if len(body) < extTotal {
		extTotal = len(body)
	}

	extensions := body[:extTotal]

	for len(extensions) >= 4 {
		extType := binary.BigEndian.Uint16(extensions[0:2])
		extLen := int(binary.BigEndian.Uint16(extensions[2:4]))
		extensions = extensions[4:]

		if len(extensions) < extLen {
			return "", false
		}

		extData := extensions[:extLen]
		extensions = extensions[extLen:]

		if extType != sniExtensionType {
			continue
		}

		if host, ok := parseSNIExtension(extData); ok {
			return host, true
		}
	}

	return "", false
}

// parseSNIExtension parses the server_name extension body: a 2-byte list
// length followed by (type uint8, 2-byte length, name) entries. Returns the
// first host_name (type 0) entry found.
func parseSNIExtension(data []byte) (string, bool) {
	if len(data) < 2 {
		return "", false
	}

	listLen := int(binary.BigEndian.Uint16(data))
	data = data[2:]

	if len(data) < listLen {
		listLen = len(data)
	}

	list := data[:listLen]

	for len(list) >= 3 {
		nameType := list[0]
		nameLen := int(binary.BigEndian.Uint16(list[1:3]))
		list = list[3:]

		if len(list) < nameLen {
			return "", false
		}

		name := list[:nameLen]
		list = list[nameLen:]

		if nameType == sniHostNameType {
			return strings.ToLower(string(name)), true
		}
	}

	return "", false
}
