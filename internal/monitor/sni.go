package monitor

import "encoding/binary"

// extractSNI pulls the SNI hostname out of a TLS ClientHello record without
// a full TLS parser. Every bounds check is explicit; any failure returns
// ("", false) rather than panicking, since malformed or truncated captures
// are routine (a ClientHello split across TCP segments, a non-SNI client).
func extractSNI(payload []byte) (string, bool) {
	if len(payload) < 50 {
		return "", false
	}
	if payload[0] != 0x16 {
		return "", false
	}
	if payload[5] != 0x01 {
		return "", false
	}

	// Record header (5) + handshake header (4) + client version (2) + random (32).
	cursor := 43

	if cursor >= len(payload) {
		return "", false
	}
	sessionIDLen := int(payload[cursor])
	cursor += 1 + sessionIDLen

	if cursor+2 > len(payload) {
		return "", false
	}
	cipherSuitesLen := int(binary.BigEndian.Uint16(payload[cursor : cursor+2]))
	cursor += 2 + cipherSuitesLen

	if cursor >= len(payload) {
		return "", false
	}
	compressionLen := int(payload[cursor])
	cursor += 1 + compressionLen

	if cursor+2 > len(payload) {
		return "", false
	}
	extensionsLen := int(binary.BigEndian.Uint16(payload[cursor : cursor+2]))
	cursor += 2

	end := cursor + extensionsLen
	if end > len(payload) {
		end = len(payload)
	}

	for cursor < end {
		if cursor+4 > len(payload) {
			break
		}
		extType := binary.BigEndian.Uint16(payload[cursor : cursor+2])
		extDataLen := int(binary.BigEndian.Uint16(payload[cursor+2 : cursor+4]))
		cursor += 4

		if extType == 0x0000 {
			return parseSNIExtension(payload, cursor)
		}

		cursor += extDataLen
	}

	return "", false
}

// parseSNIExtension decodes the server_name extension body starting at
// cursor: a 2-byte server-name-list length, a 1-byte name type (0x00 for
// host_name), and a 2-byte hostname length followed by the hostname bytes.
func parseSNIExtension(payload []byte, cursor int) (string, bool) {
	if cursor+2 > len(payload) {
		return "", false
	}
	cursor += 2 // SNI list length, not needed beyond bounds checking below

	if cursor+1 > len(payload) {
		return "", false
	}
	cursor++ // SNI type byte (expected 0x00, not enforced: unknown types still carry a length-prefixed name)

	if cursor+2 > len(payload) {
		return "", false
	}
	nameLen := int(binary.BigEndian.Uint16(payload[cursor : cursor+2]))
	cursor += 2

	if cursor+nameLen > len(payload) {
		return "", false
	}
	return string(payload[cursor : cursor+nameLen]), true
}
