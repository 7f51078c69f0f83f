package monitor

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildClientHello assembles a minimal, well-formed TLS ClientHello record
// carrying a single server_name extension, matching the byte layout the
// extractor expects.
func buildClientHello(hostname string, includeSNI bool) []byte {
	var body bytes.Buffer
	body.Write([]byte{0x03, 0x03})           // client version
	body.Write(make([]byte, 32))             // random
	body.WriteByte(0x00)                     // session ID length 0
	cipherSuites := []byte{0x00, 0x02, 0x13, 0x01}
	body.Write(cipherSuites)                 // cipher suites length 2 + suite
	body.Write([]byte{0x01, 0x00})           // compression methods: len 1, null

	var extensions bytes.Buffer
	if includeSNI {
		var sniName bytes.Buffer
		sniName.WriteByte(0x00) // host_name type
		nameLen := make([]byte, 2)
		binary.BigEndian.PutUint16(nameLen, uint16(len(hostname)))
		sniName.Write(nameLen)
		sniName.WriteString(hostname)

		sniListLen := make([]byte, 2)
		binary.BigEndian.PutUint16(sniListLen, uint16(sniName.Len()))

		var ext bytes.Buffer
		ext.Write([]byte{0x00, 0x00}) // extension type: server_name
		extData := append(append([]byte{}, sniListLen...), sniName.Bytes()...)
		extDataLen := make([]byte, 2)
		binary.BigEndian.PutUint16(extDataLen, uint16(len(extData)))
		ext.Write(extDataLen)
		ext.Write(extData)

		extensions.Write(ext.Bytes())
	}
	extLen := make([]byte, 2)
	binary.BigEndian.PutUint16(extLen, uint16(extensions.Len()))
	body.Write(extLen)
	body.Write(extensions.Bytes())

	var handshake bytes.Buffer
	handshake.WriteByte(0x01) // ClientHello
	hsLen := make([]byte, 4)
	hsLen[1] = byte(body.Len() >> 16)
	hsLen[2] = byte(body.Len() >> 8)
	hsLen[3] = byte(body.Len())
	handshake.Write(hsLen[1:])
	handshake.Write(body.Bytes())

	var record bytes.Buffer
	record.WriteByte(0x16)           // handshake content type
	record.Write([]byte{0x03, 0x01}) // record version
	recLen := make([]byte, 2)
	binary.BigEndian.PutUint16(recLen, uint16(handshake.Len()))
	record.Write(recLen)
	record.Write(handshake.Bytes())

	return record.Bytes()
}

func TestExtractSNI(t *testing.T) {
	payload := buildClientHello("example.com", true)

	got, ok := extractSNI(payload)
	if !ok {
		t.Fatalf("expected SNI to be found")
	}
	if got != "example.com" {
		t.Errorf("expected example.com, got %q", got)
	}
}

func TestExtractSNINoExtension(t *testing.T) {
	payload := buildClientHello("", false)

	_, ok := extractSNI(payload)
	if ok {
		t.Errorf("expected no SNI when server_name extension absent")
	}
}

func TestExtractSNITooShort(t *testing.T) {
	_, ok := extractSNI(make([]byte, 10))
	if ok {
		t.Errorf("expected failure on payload shorter than 50 bytes")
	}
}

func TestExtractSNIWrongContentType(t *testing.T) {
	payload := buildClientHello("example.com", true)
	payload[0] = 0x17 // application data, not handshake
	_, ok := extractSNI(payload)
	if ok {
		t.Errorf("expected failure when content type isn't handshake")
	}
}

func TestExtractSNIWrongHandshakeType(t *testing.T) {
	payload := buildClientHello("example.com", true)
	payload[5] = 0x02 // ServerHello, not ClientHello
	_, ok := extractSNI(payload)
	if ok {
		t.Errorf("expected failure when handshake type isn't ClientHello")
	}
}

func TestExtractSNITruncatedExtension(t *testing.T) {
	payload := buildClientHello("example.com", true)
	truncated := payload[:len(payload)-5]
	_, ok := extractSNI(truncated)
	if ok {
		t.Errorf("expected failure on a truncated SNI extension, not a panic")
	}
}
