package wsclient

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hervehildenbrand/aggie/internal/aggerr"
)

// Opcodes used by this client, spec.md §4.3. Only TEXT is sent; PING/PONG
// are accepted and discarded on receive; CLOSE triggers a disconnect.
const (
	opcodeText  = 0x1
	opcodePing  = 0x9
	opcodePong  = 0xA
	opcodeClose = 0x8
)

const finAndText = 0x80 | opcodeText

// writeTextFrame encodes payload as a single masked TEXT frame and writes it
// to w. The masking key is regenerated per frame from crypto/rand: a fixed
// or all-zero key is a correctness defect, not an optimisation.
func writeTextFrame(w io.Writer, payload []byte) error {
	header := make([]byte, 0, 14)
	header = append(header, finAndText)

	n := len(payload)
	switch {
	case n < 126:
		header = append(header, 0x80|byte(n))
	case n <= 0xFFFF:
		header = append(header, 0x80|126)
		ext := make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(n))
		header = append(header, ext...)
	default:
		header = append(header, 0x80|127)
		ext := make([]byte, 8)
		binary.BigEndian.PutUint64(ext, uint64(n))
		header = append(header, ext...)
	}

	var mask [4]byte
	if _, err := rand.Read(mask[:]); err != nil {
		return fmt.Errorf("wsclient: generating mask key: %w", err)
	}
	header = append(header, mask[:]...)

	masked := make([]byte, n)
	for i, b := range payload {
		masked[i] = b ^ mask[i%4]
	}

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("%w: %v", aggerr.ErrSocketError, err)
	}
	if _, err := w.Write(masked); err != nil {
		return fmt.Errorf("%w: %v", aggerr.ErrSocketError, err)
	}
	return nil
}

// readFrame reads one frame from r: 2-byte prefix, optional extended
// length, optional 4-byte mask key, then payload. io.ReadFull absorbs any
// short initial read by issuing further reads until the payload is
// complete; unmasking (if MASK=1) happens once the full payload is in hand.
func readFrame(r io.Reader) (opcode byte, payload []byte, err error) {
	prefix := make([]byte, 2)
	if n, err := io.ReadFull(r, prefix); err != nil {
		// A deadline that expires before any byte of the frame arrives is
		// returned unwrapped, so the reader loop can treat it as idle time.
		if te, ok := err.(interface{ Timeout() bool }); ok && te.Timeout() && n == 0 {
			return 0, nil, err
		}
		return 0, nil, fmt.Errorf("%w: %v", aggerr.ErrSocketError, err)
	}

	opcode = prefix[0] & 0x0F
	masked := prefix[1]&0x80 != 0
	lenIndicator := prefix[1] & 0x7F

	var length uint64
	switch {
	case lenIndicator < 126:
		length = uint64(lenIndicator)
	case lenIndicator == 126:
		ext := make([]byte, 2)
		if _, err := io.ReadFull(r, ext); err != nil {
			return 0, nil, fmt.Errorf("%w: %v", aggerr.ErrSocketError, err)
		}
		length = uint64(binary.BigEndian.Uint16(ext))
	default:
		ext := make([]byte, 8)
		if _, err := io.ReadFull(r, ext); err != nil {
			return 0, nil, fmt.Errorf("%w: %v", aggerr.ErrSocketError, err)
		}
		length = binary.BigEndian.Uint64(ext)
	}

	var maskKey [4]byte
	if masked {
		if _, err := io.ReadFull(r, maskKey[:]); err != nil {
			return 0, nil, fmt.Errorf("%w: %v", aggerr.ErrSocketError, err)
		}
	}

	payload = make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("%w: %v", aggerr.ErrSocketError, err)
		}
	}

	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}

	switch opcode {
	case opcodeText, opcodePing, opcodePong, opcodeClose:
		return opcode, payload, nil
	default:
		return opcode, payload, aggerr.ErrInvalidMessage
	}
}
