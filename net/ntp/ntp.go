package ntp

import (
	"errors"
	"fmt"
	"time"
)

const (
	// Seconds from Unix epoch (1970) to NTP epoch (1900), including 17 leap days
	epoch int64 = -2208988800

	nanosecondsPerSecond int64 = 1e9
	secondsPerEra        int64 = 1 << 32

	ServerPort = 123

	HeaderLen = 48

	LeapIndicatorNoWarning    = 0
	LeapIndicatorInsertSecond = 1
	LeapIndicatorDeleteSecond = 2
	LeapIndicatorUnknown      = 3

	VersionMin = 1
	VersionMax = 4

	ModeReserved0        = 0
	ModeSymmetricActive  = 1
	ModeSymmetricPassive = 2
	ModeClient           = 3
	ModeServer           = 4
	ModeBroadcast        = 5
	ModeControl          = 6
	ModeReserved7        = 7
)

// Extension field type codes, see RFC 7822 and RFC 8915.
const (
	ExtUniqueIdentifier  uint16 = 0x104
	ExtCookie            uint16 = 0x204
	ExtCookiePlaceholder uint16 = 0x304
	ExtAuthenticator     uint16 = 0x404
)

var (
	ErrTruncatedPacket        = errors.New("truncated packet")
	ErrInvalidExtensionLength = errors.New("invalid extension field length")
)

// UnsupportedVersionError indicates a packet whose version number is outside
// the range this codec decodes. The raw version value is preserved so that
// callers can report it.
type UnsupportedVersionError struct {
	Version uint8
}

func (e UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported packet version: %d", e.Version)
}

type Time32 struct {
	Seconds  uint16
	Fraction uint16
}

type Time64 struct {
	Seconds  uint32
	Fraction uint32
}

// ExtensionField is a single extension field following the 48 byte header.
// Value holds the field body without the 4 byte type/length header.
type ExtensionField struct {
	Type  uint16
	Value []byte
}

type Packet struct {
	LVM            uint8
	Stratum        uint8
	Poll           int8
	Precision      int8
	RootDelay      Time32
	RootDispersion Time32
	ReferenceID    uint32
	ReferenceTime  Time64
	OriginTime     Time64
	ReceiveTime    Time64
	TransmitTime   Time64
	Extensions     []ExtensionField
}

func Time64FromTime(t time.Time) Time64 {
	return Time64{
		Seconds: uint32(
			t.Unix() - epoch),
		Fraction: uint32(
			int64(t.Nanosecond()) << 32 / nanosecondsPerSecond),
	}
}

// TimeFromTime64 converts an NTP timestamp to a time.Time using a reference time t0
// to resolve the NTP timestamp era ambiguity.
func TimeFromTime64(t Time64, t0 time.Time) time.Time {
	tref := t0.Unix()

	sec := epoch + (tref-epoch)/secondsPerEra*secondsPerEra + int64(t.Seconds)

	// If the timestamp would be too far in the past relative to
	// the reference time, assume it's from the next era
	if sec < tref-secondsPerEra/2 {
		sec += secondsPerEra
	}

	nsec := int64(t.Fraction) * nanosecondsPerSecond >> 32

	return time.Unix(sec, nsec).UTC()
}

func (t Time64) Before(u Time64) bool {
	return t.Seconds < u.Seconds ||
		t.Seconds == u.Seconds && t.Fraction < u.Fraction
}

func (t Time64) After(u Time64) bool {
	return t.Seconds > u.Seconds ||
		t.Seconds == u.Seconds && t.Fraction > u.Fraction
}

func ClockOffset(t0, t1, t2, t3 time.Time) time.Duration {
	return (t1.Sub(t0) + t2.Sub(t3)) / 2
}

func RoundTripDelay(t0, t1, t2, t3 time.Time) time.Duration {
	return t3.Sub(t0) - t2.Sub(t1)
}

// AppendHeader appends the 48 byte header of pkt to b. It performs no
// validation whatsoever: out-of-range bit field values end up on the wire
// exactly as set, which is what the negative test cases rely on.
func AppendHeader(b []byte, pkt *Packet) []byte {
	b = append(b,
		pkt.LVM,
		pkt.Stratum,
		byte(pkt.Poll),
		byte(pkt.Precision),
		byte(pkt.RootDelay.Seconds>>8),
		byte(pkt.RootDelay.Seconds),
		byte(pkt.RootDelay.Fraction>>8),
		byte(pkt.RootDelay.Fraction),
		byte(pkt.RootDispersion.Seconds>>8),
		byte(pkt.RootDispersion.Seconds),
		byte(pkt.RootDispersion.Fraction>>8),
		byte(pkt.RootDispersion.Fraction),
		byte(pkt.ReferenceID>>24),
		byte(pkt.ReferenceID>>16),
		byte(pkt.ReferenceID>>8),
		byte(pkt.ReferenceID),
	)
	b = appendTime64(b, pkt.ReferenceTime)
	b = appendTime64(b, pkt.OriginTime)
	b = appendTime64(b, pkt.ReceiveTime)
	b = appendTime64(b, pkt.TransmitTime)
	return b
}

func appendTime64(b []byte, t Time64) []byte {
	return append(b,
		byte(t.Seconds>>24),
		byte(t.Seconds>>16),
		byte(t.Seconds>>8),
		byte(t.Seconds),
		byte(t.Fraction>>24),
		byte(t.Fraction>>16),
		byte(t.Fraction>>8),
		byte(t.Fraction),
	)
}

// AppendExtension appends a well-formed extension field: the value is zero
// padded to a multiple of 4 and the declared length covers header and padded
// value.
func AppendExtension(b []byte, typ uint16, value []byte) []byte {
	padded := (len(value) + 3) &^ 3
	length := uint16(4 + padded)
	b = append(b, byte(typ>>8), byte(typ), byte(length>>8), byte(length))
	b = append(b, value...)
	for i := len(value); i < padded; i++ {
		b = append(b, 0)
	}
	return b
}

// AppendRawExtension appends an extension field with an arbitrary declared
// length and the value bytes exactly as given, without padding. The declared
// length may disagree with the actual value length; this is the escape hatch
// for building non-conformant packets.
func AppendRawExtension(b []byte, typ uint16, length uint16, value []byte) []byte {
	b = append(b, byte(typ>>8), byte(typ), byte(length>>8), byte(length))
	return append(b, value...)
}

// EncodePacket encodes pkt into *b, growing it as needed. Encoding is total:
// any field values, including ones that violate the protocol, are written out
// unchanged.
func EncodePacket(b *[]byte, pkt *Packet) {
	buf := (*b)[:0]
	buf = AppendHeader(buf, pkt)
	for _, ext := range pkt.Extensions {
		buf = AppendExtension(buf, ext.Type, ext.Value)
	}
	*b = buf
}

// DecodePacket decodes b into pkt. It fails with ErrTruncatedPacket for
// inputs shorter than the 48 byte header, with UnsupportedVersionError for
// version numbers outside [VersionMin, VersionMax], and with
// ErrInvalidExtensionLength for extension fields whose declared length is
// malformed or would read past the end of the packet. It never panics,
// regardless of input.
func DecodePacket(pkt *Packet, b []byte) error {
	if len(b) < HeaderLen {
		return ErrTruncatedPacket
	}

	pkt.LVM = b[0]
	pkt.Stratum = b[1]
	pkt.Poll = int8(b[2])
	pkt.Precision = int8(b[3])
	pkt.RootDelay.Seconds = uint16(b[4])<<8 | uint16(b[5])
	pkt.RootDelay.Fraction = uint16(b[6])<<8 | uint16(b[7])
	pkt.RootDispersion.Seconds = uint16(b[8])<<8 | uint16(b[9])
	pkt.RootDispersion.Fraction = uint16(b[10])<<8 | uint16(b[11])
	pkt.ReferenceID = uint32(b[12])<<24 | uint32(b[13])<<16 | uint32(b[14])<<8 | uint32(b[15])
	pkt.ReferenceTime = decodeTime64(b[16:24])
	pkt.OriginTime = decodeTime64(b[24:32])
	pkt.ReceiveTime = decodeTime64(b[32:40])
	pkt.TransmitTime = decodeTime64(b[40:48])
	pkt.Extensions = nil

	if v := pkt.Version(); v < VersionMin || v > VersionMax {
		return UnsupportedVersionError{Version: v}
	}

	off := HeaderLen
	for off < len(b) {
		if len(b)-off < 4 {
			return ErrInvalidExtensionLength
		}
		typ := uint16(b[off])<<8 | uint16(b[off+1])
		length := int(uint16(b[off+2])<<8 | uint16(b[off+3]))
		if length < 4 || length%4 != 0 || length > len(b)-off {
			return ErrInvalidExtensionLength
		}
		value := make([]byte, length-4)
		copy(value, b[off+4:off+length])
		pkt.Extensions = append(pkt.Extensions, ExtensionField{Type: typ, Value: value})
		off += length
	}

	return nil
}

func decodeTime64(b []byte) Time64 {
	return Time64{
		Seconds:  uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]),
		Fraction: uint32(b[4])<<24 | uint32(b[5])<<16 | uint32(b[6])<<8 | uint32(b[7]),
	}
}

func (p *Packet) LeapIndicator() uint8 {
	return (p.LVM >> 6) & 0b0000_0011
}

func (p *Packet) SetLeapIndicator(l uint8) {
	if l&0b0000_0011 != l {
		panic("unexpected NTP leap indicator value")
	}
	p.LVM = (p.LVM & 0b0011_1111) | (l << 6)
}

func (p *Packet) Version() uint8 {
	return (p.LVM >> 3) & 0b0000_0111
}

func (p *Packet) SetVersion(v uint8) {
	if v&0b0000_0111 != v {
		panic("unexpected NTP version value")
	}
	p.LVM = (p.LVM & 0b_1100_0111) | (v << 3)
}

func (p *Packet) Mode() uint8 {
	return p.LVM & 0b0000_0111
}

func (p *Packet) SetMode(m uint8) {
	if m&0b0000_0111 != m {
		panic("unexpected NTP mode value")
	}
	p.LVM = (p.LVM & 0b1111_1000) | m
}

// UniqueID returns the value of the first Unique Identifier extension field,
// or nil if the packet carries none.
func (p *Packet) UniqueID() []byte {
	for _, ext := range p.Extensions {
		if ext.Type == ExtUniqueIdentifier {
			return ext.Value
		}
	}
	return nil
}
