package collector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	START_BYTE byte = 0x99
	header_len      = 4
)

var (
	errBadFrame     = errors.New("bad frame")
	errBufferSmall  = errors.New("buffer too small")
	errPayloadLarge = errors.New("payload too large")
)

type FrameMessage struct {
	Length   int
	Protocol byte
	Payload  []byte
	Buffer   []byte
}

// ReadMessage reads one frame:
//
//	0x99 | protocol | payload length (uint16 LE) | payload | '\n'
//
// Payload aliases msg.Buffer and is only valid until the next read.
func ReadMessage(r io.Reader, msg *FrameMessage) error {
	if len(msg.Buffer) < header_len+1 {
		return errBufferSmall
	}

	_, err := io.ReadFull(r, msg.Buffer[:header_len])
	if err != nil {
		return err
	}
	if msg.Buffer[0] != START_BYTE {
		return errBadFrame
	}
	length := int(binary.LittleEndian.Uint16(msg.Buffer[2:4]))
	msg.Protocol = msg.Buffer[1]
	msg.Length = length + header_len + 1

	if len(msg.Buffer) < msg.Length {
		return fmt.Errorf("%w: frame of %d bytes", errBufferSmall, msg.Length)
	}

	_, err = io.ReadFull(r, msg.Buffer[header_len:msg.Length])
	if err != nil {
		return err
	}
	if msg.Buffer[msg.Length-1] != '\n' {
		return errBadFrame
	}
	msg.Payload = msg.Buffer[header_len : msg.Length-1]
	return nil
}

// AppendFrame appends a complete frame carrying payload to buf.
func AppendFrame(buf []byte, protocol byte, payload []byte) ([]byte, error) {
	if len(payload) > 0xFFFF {
		return buf, errPayloadLarge
	}
	buf = append(buf, START_BYTE, protocol, 0, 0)
	binary.LittleEndian.PutUint16(buf[len(buf)-2:], uint16(len(payload)))
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	return buf, nil
}
