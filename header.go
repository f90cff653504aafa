package lossless

// header.go defines the headers the fabric pushes on packets, and their
// big-endian wire layouts

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// header lengths on the wire, in bytes
const (
	DataHeaderLen    = 15
	ControlHeaderLen = 8
	PauseHeaderLen   = 10
	CNHeaderLen      = 8
)

// DataHeader rides on ordinary (UDP) traffic
type DataHeader struct {
	Seq       uint32
	Class     uint16
	Timestamp uint64 // simulation time of transmission, nanoseconds
	AckNeeded bool
}

// Marshal returns the wire form of the header
func (dh *DataHeader) Marshal() []byte {
	buf := make([]byte, DataHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], dh.Seq)
	binary.BigEndian.PutUint16(buf[4:6], dh.Class)
	binary.BigEndian.PutUint64(buf[6:14], dh.Timestamp)
	if dh.AckNeeded {
		buf[14] = 1
	}
	return buf
}

// Unmarshal fills the header from its wire form
func (dh *DataHeader) Unmarshal(buf []byte) error {
	if len(buf) < DataHeaderLen {
		return errors.Errorf("short data header [%d < %d]", len(buf), DataHeaderLen)
	}
	dh.Seq = binary.BigEndian.Uint32(buf[0:4])
	dh.Class = binary.BigEndian.Uint16(buf[4:6])
	dh.Timestamp = binary.BigEndian.Uint64(buf[6:14])
	dh.AckNeeded = buf[14] != 0
	return nil
}

// ControlHeader is carried by ACK and NACK packets.  Port is the source
// port of the flow being acknowledged.
type ControlHeader struct {
	Class uint16
	Seq   uint32
	Port  uint16
}

// Marshal returns the wire form of the header
func (ch *ControlHeader) Marshal() []byte {
	buf := make([]byte, ControlHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], ch.Class)
	binary.BigEndian.PutUint32(buf[2:6], ch.Seq)
	binary.BigEndian.PutUint16(buf[6:8], ch.Port)
	return buf
}

// Unmarshal fills the header from its wire form
func (ch *ControlHeader) Unmarshal(buf []byte) error {
	if len(buf) < ControlHeaderLen {
		return errors.Errorf("short control header [%d < %d]", len(buf), ControlHeaderLen)
	}
	ch.Class = binary.BigEndian.Uint16(buf[0:2])
	ch.Seq = binary.BigEndian.Uint32(buf[2:6])
	ch.Port = binary.BigEndian.Uint16(buf[6:8])
	return nil
}

// PauseHeader is carried by PFC frames.  A Time of zero asks for an immediate resume.
type PauseHeader struct {
	Time  uint32 // requested pause, microseconds
	QLen  uint32 // queue depth of the sender of the frame, bytes
	Class uint16
}

// Marshal returns the wire form of the header
func (ph *PauseHeader) Marshal() []byte {
	buf := make([]byte, PauseHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], ph.Time)
	binary.BigEndian.PutUint32(buf[4:8], ph.QLen)
	binary.BigEndian.PutUint16(buf[8:10], ph.Class)
	return buf
}

// Unmarshal fills the header from its wire form
func (ph *PauseHeader) Unmarshal(buf []byte) error {
	if len(buf) < PauseHeaderLen {
		return errors.Errorf("short pause header [%d < %d]", len(buf), PauseHeaderLen)
	}
	ph.Time = binary.BigEndian.Uint32(buf[0:4])
	ph.QLen = binary.BigEndian.Uint32(buf[4:8])
	ph.Class = binary.BigEndian.Uint16(buf[8:10])
	return nil
}

// Seconds returns the requested pause duration in seconds
func (ph *PauseHeader) Seconds() float64 {
	return float64(ph.Time) * 1e-6
}

// CNHeader is carried by congestion notifications sent from the receiver
// back to the sender of a flow.  Qfb counts marked packets in the sampling
// period and Total counts all of them.
type CNHeader struct {
	Port    uint16
	Class   uint8
	ECNBits uint8
	Qfb     uint16
	Total   uint16
}

// Marshal returns the wire form of the header
func (cn *CNHeader) Marshal() []byte {
	buf := make([]byte, CNHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], cn.Port)
	buf[2] = cn.Class
	buf[3] = cn.ECNBits
	binary.BigEndian.PutUint16(buf[4:6], cn.Qfb)
	binary.BigEndian.PutUint16(buf[6:8], cn.Total)
	return buf
}

// Unmarshal fills the header from its wire form
func (cn *CNHeader) Unmarshal(buf []byte) error {
	if len(buf) < CNHeaderLen {
		return errors.Errorf("short cn header [%d < %d]", len(buf), CNHeaderLen)
	}
	cn.Port = binary.BigEndian.Uint16(buf[0:2])
	cn.Class = buf[2]
	cn.ECNBits = buf[3]
	cn.Qfb = binary.BigEndian.Uint16(buf[4:6])
	cn.Total = binary.BigEndian.Uint16(buf[6:8])
	return nil
}

// Fraction returns the marked fraction the sender reacts to
func (cn *CNHeader) Fraction() float64 {
	return float64(cn.Qfb) / float64(uint32(cn.Total)+1)
}
