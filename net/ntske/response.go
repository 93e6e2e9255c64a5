package ntske

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// A server answering with more records than this is broken; the bound keeps
// the read loop from running forever on a babbling peer.
const maxResponseRecords = 1024

var (
	ErrUnexpectedClose       = errors.New("connection closed before End of Message")
	ErrEmptyMessage          = errors.New("message contains no records besides End of Message")
	ErrUnknownCriticalRecord = errors.New("unknown record type with critical bit set")
	ErrDuplicateRecord       = errors.New("duplicate record in message")
	ErrTooManyRecords        = errors.New("too many records in message")
	errMalformedRecord       = errors.New("malformed record body")
)

// RawRecord is a single NTS-KE record as read off the wire, before any
// interpretation beyond the critical bit.
type RawRecord struct {
	Type     uint16
	Critical bool
	Body     []byte
}

// ReadRecord reads one record from r. An EOF at a record boundary is
// reported as io.EOF; an EOF inside a record as ErrUnexpectedClose.
func ReadRecord(r io.Reader) (RawRecord, error) {
	var hdr RecordHdr
	err := binary.Read(r, binary.BigEndian, &hdr)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return RawRecord{}, ErrUnexpectedClose
		}
		return RawRecord{}, err
	}

	rec := RawRecord{
		Type:     hdr.Type &^ (1 << 15),
		Critical: hasBit(hdr.Type, 15),
		Body:     make([]byte, hdr.BodyLen),
	}
	_, err = io.ReadFull(r, rec.Body)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return RawRecord{}, ErrUnexpectedClose
		}
		return RawRecord{}, err
	}
	return rec, nil
}

// ReadMessage reads records from r up to and including End of Message. A
// stream that closes before End of Message yields ErrUnexpectedClose; the
// number of records read is bounded so the caller can never hang on an
// endless stream.
func ReadMessage(r io.Reader) ([]RawRecord, error) {
	var records []RawRecord
	for {
		if len(records) == maxResponseRecords {
			return nil, ErrTooManyRecords
		}
		rec, err := ReadRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrUnexpectedClose
			}
			return nil, err
		}
		records = append(records, rec)
		if rec.Type == RecEom {
			return records, nil
		}
	}
}

// Response is the interpreted form of a server-to-client NTS-KE message.
// The Has fields distinguish an absent negotiation record from one carrying
// an empty list, which the negotiation edge cases need to tell apart.
type Response struct {
	Records []RawRecord

	NextProtos    []uint16
	HasNextProtos bool
	Aeads         []uint16
	HasAeads      bool
	Errors        []uint16
	Warnings      []uint16
	Cookies       [][]byte
	Server        string
	HasServer     bool
	Port          uint16
	HasPort       bool
}

// ParseResponse interprets a record sequence as read by ReadMessage. Per RFC
// 8915 the negotiation records may arrive in any order, but End of Message
// must be last and the Next Protocol, AEAD, Server and Port records must not
// repeat. Unknown record types are ignored unless their critical bit is set.
func ParseResponse(records []RawRecord) (*Response, error) {
	if len(records) == 0 || records[len(records)-1].Type != RecEom {
		return nil, ErrUnexpectedClose
	}
	if len(records) == 1 {
		return nil, ErrEmptyMessage
	}

	resp := &Response{Records: records}
	for _, rec := range records[:len(records)-1] {
		switch rec.Type {
		case RecEom:
			return nil, fmt.Errorf("%w: End of Message not last", ErrDuplicateRecord)

		case RecNextproto:
			if resp.HasNextProtos {
				return nil, fmt.Errorf("%w: Next Protocol Negotiation", ErrDuplicateRecord)
			}
			protos, err := uint16List(rec.Body)
			if err != nil {
				return nil, err
			}
			resp.NextProtos = protos
			resp.HasNextProtos = true

		case RecAead:
			if resp.HasAeads {
				return nil, fmt.Errorf("%w: AEAD Algorithm Negotiation", ErrDuplicateRecord)
			}
			aeads, err := uint16List(rec.Body)
			if err != nil {
				return nil, err
			}
			resp.Aeads = aeads
			resp.HasAeads = true

		case RecError:
			code, err := uint16Value(rec.Body)
			if err != nil {
				return nil, err
			}
			resp.Errors = append(resp.Errors, code)

		case RecWarning:
			code, err := uint16Value(rec.Body)
			if err != nil {
				return nil, err
			}
			resp.Warnings = append(resp.Warnings, code)

		case RecCookie:
			cookie := make([]byte, len(rec.Body))
			copy(cookie, rec.Body)
			resp.Cookies = append(resp.Cookies, cookie)

		case RecServer:
			if resp.HasServer {
				return nil, fmt.Errorf("%w: NTPv4 Server Negotiation", ErrDuplicateRecord)
			}
			resp.Server = string(rec.Body)
			resp.HasServer = true

		case RecPort:
			if resp.HasPort {
				return nil, fmt.Errorf("%w: NTPv4 Port Negotiation", ErrDuplicateRecord)
			}
			port, err := uint16Value(rec.Body)
			if err != nil {
				return nil, err
			}
			resp.Port = port
			resp.HasPort = true

		default:
			if rec.Critical {
				return nil, fmt.Errorf("%w: type %d", ErrUnknownCriticalRecord, rec.Type)
			}
			// Swallow unknown record.
		}
	}

	return resp, nil
}

func uint16List(body []byte) ([]uint16, error) {
	if len(body)%2 != 0 {
		return nil, errMalformedRecord
	}
	vs := make([]uint16, 0, len(body)/2)
	for i := 0; i < len(body); i += 2 {
		vs = append(vs, uint16(body[i])<<8|uint16(body[i+1]))
	}
	return vs, nil
}

func uint16Value(body []byte) (uint16, error) {
	if len(body) != 2 {
		return 0, errMalformedRecord
	}
	return uint16(body[0])<<8 | uint16(body[1]), nil
}

// String renders the negotiation results in one line, used for the report's
// failure detail.
func (r *Response) String() string {
	var sb strings.Builder
	if r.HasNextProtos {
		fmt.Fprintf(&sb, "nextproto=%v", r.NextProtos)
	} else {
		sb.WriteString("nextproto=absent")
	}
	if r.HasAeads {
		fmt.Fprintf(&sb, " aead=%v", r.Aeads)
	} else {
		sb.WriteString(" aead=absent")
	}
	fmt.Fprintf(&sb, " cookies=%d errors=%v warnings=%v", len(r.Cookies), r.Errors, r.Warnings)
	if r.HasServer {
		fmt.Fprintf(&sb, " server=%q", r.Server)
	}
	if r.HasPort {
		fmt.Fprintf(&sb, " port=%d", r.Port)
	}
	return sb.String()
}
