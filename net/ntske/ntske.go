/*
Copyright 2018--2019 Michael Cardell Widerkrantz, Martin Samuelsson,
Daniel Lublin

Permission to use, copy, modify, and/or distribute this software for
any purpose with or without fee is hereby granted, provided that the
above copyright notice and this permission notice appear in all
copies.

THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL
WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED
WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE
AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL
DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR
PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER
TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR
PERFORMANCE OF THIS SOFTWARE.
*/

// Package ntske implements the client side of the NTS Key Establishment
// protocol (RFC 8915), including the record codec used to build both
// well-formed and deliberately non-conformant exchanges.
package ntske

import (
	"bytes"
	"crypto/tls"
	"encoding/binary"
)

// Data is negotiated data from the Key Exchange
type Data struct {
	C2sKey []byte
	S2cKey []byte
	Server string
	Port   uint16
	Cookie [][]byte
	Algo   uint16
}

// NTS-KE record types
const (
	RecEom       uint16 = 0
	RecNextproto uint16 = 1
	RecError     uint16 = 2
	RecWarning   uint16 = 3
	RecAead      uint16 = 4
	RecCookie    uint16 = 5
	RecServer    uint16 = 6
	RecPort      uint16 = 7
)

const (
	AES_SIV_CMAC_256 uint16 = 0x0f

	ServerPort = 4460
)

const (
	ErrorCodeUnrecognizedCritical uint16 = 0
	ErrorCodeBadRequest           uint16 = 1
	ErrorCodeInternalServer       uint16 = 2
)

const alpn = "ntske/1"

// NTPv4 is the protocol ID negotiated in the Next Protocol record.
const NTPv4 uint16 = 0

// RecordHdr is the header on all records sent in NTS-KE. The first
// bit of the Type is the critical bit.
type RecordHdr struct {
	Type    uint16 // First bit is Critical bit
	BodyLen uint16
}

func (h RecordHdr) pack(buf *bytes.Buffer) error {
	return binary.Write(buf, binary.BigEndian, h)
}

func packsimple(t uint16, c bool, v interface{}, buf *bytes.Buffer) error {
	value := new(bytes.Buffer)
	err := binary.Write(value, binary.BigEndian, v)
	if err != nil {
		return err
	}

	err = packheader(t, c, buf, value.Len())
	if err != nil {
		return err
	}

	_, err = buf.ReadFrom(value)
	if err != nil {
		return err
	}

	return nil
}

func packheader(t uint16, c bool, buf *bytes.Buffer, bodylen int) error {
	var hdr RecordHdr

	hdr.Type = t
	if c {
		hdr.Type = setBit(hdr.Type, 15)
	}

	hdr.BodyLen = uint16(bodylen)

	return hdr.pack(buf)
}

// Record is the interface all record types must implement.
// pack() packs the record into wire format.
type Record interface {
	pack(*bytes.Buffer) error
}

// ExchangeMsg is a representation of a series of records to be sent
// to the peer.
type ExchangeMsg struct {
	Record []Record
}

// Pack allocates a buffer and packs all records into wire format in
// that buffer.
func (m ExchangeMsg) Pack() (buf *bytes.Buffer, err error) {
	buf = new(bytes.Buffer)

	for _, r := range m.Record {
		err = r.pack(buf)
		if err != nil {
			return nil, err
		}
	}

	return buf, nil
}

// AddRecord adds a new record to a Key Exchange message.
func (m *ExchangeMsg) AddRecord(rec Record) {
	m.Record = append(m.Record, rec)
}

// NextProto is the Next Protocol Negotiation record, proposing the listed
// protocol IDs. Always sent with the critical bit set.
type NextProto struct {
	Protos []uint16
}

func (n NextProto) pack(buf *bytes.Buffer) error {
	return packsimple(RecNextproto, true, n.Protos, buf)
}

// End is the End of Message record.
type End struct{}

func (e End) pack(buf *bytes.Buffer) error {
	return packheader(RecEom, true, buf, 0)
}

// Server is the NTPv4 Server Negotiation record, telling the peer to use a
// certain server for the next protocol. Set Critical to true if you want the
// critical bit set.
type Server struct {
	Addr     []byte
	Critical bool
}

func (s Server) pack(buf *bytes.Buffer) error {
	return packsimple(RecServer, s.Critical, s.Addr, buf)
}

// Port is the NTPv4 Port Negotiation record, telling the peer to use this
// port for the next protocol. Set Critical to true if you want the critical
// bit set.
type Port struct {
	Port     uint16
	Critical bool
}

func (p Port) pack(buf *bytes.Buffer) error {
	return packsimple(RecPort, p.Critical, p.Port, buf)
}

// Cookie is a New Cookie for NTPv4 record.
type Cookie struct {
	Cookie []byte
}

func (c Cookie) pack(buf *bytes.Buffer) error {
	return packsimple(RecCookie, false, c.Cookie, buf)
}

// Warning is the record type carrying a warning code.
type Warning struct {
	Code uint16
}

func (w Warning) pack(buf *bytes.Buffer) error {
	return packsimple(RecWarning, true, w.Code, buf)
}

// Error is the record type carrying an error code.
type Error struct {
	Code uint16
}

func (e Error) pack(buf *bytes.Buffer) error {
	return packsimple(RecError, true, e.Code, buf)
}

// Algorithm is the AEAD Algorithm Negotiation record, proposing the listed
// AEAD algorithm IDs.
type Algorithm struct {
	Algo     []uint16
	Critical bool
}

func (a Algorithm) pack(buf *bytes.Buffer) error {
	return packsimple(RecAead, a.Critical, a.Algo, buf)
}

// Raw is an arbitrary record with a caller-chosen type code and body, used by
// test cases that need to send records the protocol does not define.
type Raw struct {
	Type     uint16
	Body     []byte
	Critical bool
}

func (r Raw) pack(buf *bytes.Buffer) error {
	err := packheader(r.Type, r.Critical, buf, len(r.Body))
	if err != nil {
		return err
	}
	_, err = buf.Write(r.Body)
	return err
}

// Request describes one client-to-server NTS-KE message. The zero port means
// no Port record is sent.
type Request struct {
	NextProtos   []uint16
	Aeads        []uint16
	CriticalAead bool
	Server       string
	Port         uint16
}

// DefaultRequest proposes NTPv4 with AES-SIV-CMAC-256, the negotiation every
// conformant server must accept.
func DefaultRequest() Request {
	return Request{
		NextProtos: []uint16{NTPv4},
		Aeads:      []uint16{AES_SIV_CMAC_256},
	}
}

// Message assembles the records for the request, terminated by End of
// Message.
func (r Request) Message() ExchangeMsg {
	var msg ExchangeMsg
	msg.AddRecord(NextProto{Protos: r.NextProtos})
	msg.AddRecord(Algorithm{Algo: r.Aeads, Critical: r.CriticalAead})
	if r.Server != "" {
		msg.AddRecord(Server{Addr: []byte(r.Server)})
	}
	if r.Port != 0 {
		msg.AddRecord(Port{Port: r.Port})
	}
	msg.AddRecord(End{})
	return msg
}

// ExportKeys exports the two NTS session keys from the established NTS-KE
// connection, binding them to the negotiated AEAD algorithm (RFC 8915,
// section 4.3).
func ExportKeys(cs tls.ConnectionState, data *Data) error {
	label := "EXPORTER-network-time-security"
	s2cContext := []byte{0x00, 0x00, byte(data.Algo >> 8), byte(data.Algo), 0x01}
	c2sContext := []byte{0x00, 0x00, byte(data.Algo >> 8), byte(data.Algo), 0x00}
	keyLen := 32

	var err error
	data.S2cKey, err = cs.ExportKeyingMaterial(label, s2cContext, keyLen)
	if err != nil {
		return err
	}

	data.C2sKey, err = cs.ExportKeyingMaterial(label, c2sContext, keyLen)
	if err != nil {
		return err
	}

	return nil
}

func setBit(n uint16, pos uint) uint16 {
	n |= (1 << pos)
	return n
}

func hasBit(n uint16, pos uint) bool {
	val := n & (1 << pos)
	return (val > 0)
}
