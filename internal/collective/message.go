package collective

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var endian = binary.LittleEndian

var errNameTooLong = errors.New("message name too long")

const maxNameLength = 1 << 10

// message is one framed datagram between peers: a routing name, the sender's
// rank, and a float64 payload. Barrier messages carry an empty payload.
type message struct {
	Name string
	Rank uint32
	Data []float64
}

func (m message) writeTo(w io.Writer) error {
	name := []byte(m.Name)
	if len(name) > maxNameLength {
		return errNameTooLong
	}
	if err := binary.Write(w, endian, uint32(len(name))); err != nil {
		return err
	}
	if _, err := w.Write(name); err != nil {
		return err
	}
	if err := binary.Write(w, endian, m.Rank); err != nil {
		return err
	}
	if err := binary.Write(w, endian, uint32(len(m.Data))); err != nil {
		return err
	}
	return binary.Write(w, endian, m.Data)
}

func (m *message) readFrom(r io.Reader) error {
	var nameLen uint32
	if err := binary.Read(r, endian, &nameLen); err != nil {
		return err
	}
	if nameLen > maxNameLength {
		return errNameTooLong
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return err
	}
	m.Name = string(name)
	if err := binary.Read(r, endian, &m.Rank); err != nil {
		return err
	}
	var count uint32
	if err := binary.Read(r, endian, &count); err != nil {
		return err
	}
	m.Data = make([]float64, count)
	return binary.Read(r, endian, m.Data)
}

func (m message) String() string {
	return fmt.Sprintf("message{name=%s,rank=%d,count=%d}", m.Name, m.Rank, len(m.Data))
}
