package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// CurrentSchemaVersion is the schema byte written by [Encode].
const CurrentSchemaVersion uint8 = 1

const (
	maxShortField     = 255
	maxUserAgentBytes = 1024
)

// ErrFieldTooLong is returned when a session field exceeds its encoded width.
var ErrFieldTooLong = errors.New("session field too long")

// Encode serializes the immutable part of s: identifiers, client metadata, and
// creation time. Mutable fields are stored alongside as separate hash fields.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(CurrentSchemaVersion)

	if err := writeShort(&buf, "sessionID", s.SessionID); err != nil {
		return nil, err
	}
	if err := writeShort(&buf, "userID", s.UserID); err != nil {
		return nil, err
	}

	buf.Write(s.TokenHash[:])

	if len(s.UserAgent) > maxUserAgentBytes {
		return nil, fmt.Errorf("%w: userAgent", ErrFieldTooLong)
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(s.UserAgent))); err != nil {
		return nil, err
	}
	buf.WriteString(s.UserAgent)

	if err := writeShort(&buf, "ipAddress", s.IPAddress); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt.UnixMilli()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by [Encode].
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != CurrentSchemaVersion {
		return nil, fmt.Errorf("unsupported session schema version %d", version)
	}

	s := &Session{SchemaVersion: version}

	if s.SessionID, err = readShort(reader); err != nil {
		return nil, err
	}
	if s.UserID, err = readShort(reader); err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(reader, s.TokenHash[:]); err != nil {
		return nil, err
	}

	var uaLen uint16
	if err := binary.Read(reader, binary.BigEndian, &uaLen); err != nil {
		return nil, err
	}
	if int(uaLen) > maxUserAgentBytes {
		return nil, fmt.Errorf("%w: userAgent", ErrFieldTooLong)
	}
	ua := make([]byte, uaLen)
	if _, err := io.ReadFull(reader, ua); err != nil {
		return nil, err
	}
	s.UserAgent = string(ua)

	if s.IPAddress, err = readShort(reader); err != nil {
		return nil, err
	}

	var createdMs int64
	if err := binary.Read(reader, binary.BigEndian, &createdMs); err != nil {
		return nil, err
	}
	s.CreatedAt = time.UnixMilli(createdMs)

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in session blob")
	}

	return s, nil
}

func writeShort(buf *bytes.Buffer, name, v string) error {
	if len(v) > maxShortField {
		return fmt.Errorf("%w: %s", ErrFieldTooLong, name)
	}
	buf.WriteByte(byte(len(v)))
	buf.WriteString(v)
	return nil
}

func readShort(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(reader, out); err != nil {
		return "", err
	}
	return string(out), nil
}
