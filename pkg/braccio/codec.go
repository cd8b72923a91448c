package braccio

import (
	"bytes"
	"strconv"
)

// Frame constants.
const (
	// Terminator marks the end of a frame.
	Terminator = '|'

	// MaxChunkSize is the largest write the link accepts.
	MaxChunkSize = 20
)

// Encode renders cmd as a frame: the kind tag, for moves the six comma
// separated position fields, and the terminator.
//
//	P,90,146,3,3,90,73|
//	H|
func Encode(cmd Command) []byte {
	buf := make([]byte, 0, 32)
	buf = append(buf, byte(cmd.Kind))

	if cmd.Kind == KindMove {
		p := cmd.Position
		for _, v := range []int{p.Base, p.Shoulder, p.Elbow, p.Wrist, int(p.Rotation), int(p.Gripper)} {
			buf = append(buf, ',')
			buf = strconv.AppendInt(buf, int64(v), 10)
		}
	}

	return append(buf, Terminator)
}

// DecodeStatus maps a status notification to a Status. Whitespace and NUL
// padding around the code are ignored; anything else unknown is a
// *ProtocolError.
func DecodeStatus(data []byte) (Status, error) {
	code := string(bytes.Trim(data, " \t\r\n\x00"))
	for _, st := range WireStatuses() {
		if st.Code() == code {
			return st, nil
		}
	}
	return StatusNone, &ProtocolError{Raw: append([]byte(nil), data...), Err: ErrUnknownStatus}
}

// Chunk splits frame into consecutive pieces of at most size bytes.
// The pieces alias frame.
func Chunk(frame []byte, size int) [][]byte {
	if size <= 0 {
		size = MaxChunkSize
	}
	chunks := make([][]byte, 0, (len(frame)+size-1)/size)
	for len(frame) > 0 {
		n := min(size, len(frame))
		chunks = append(chunks, frame[:n])
		frame = frame[n:]
	}
	return chunks
}
