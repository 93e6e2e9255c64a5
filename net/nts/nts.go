// Package nts builds and interprets NTS-protected NTP packets (RFC 8915,
// section 5): Unique Identifier, NTS Cookie, NTS Cookie Placeholder, and the
// NTS Authenticator and Encrypted Extension Fields field, protected with
// AES-SIV-CMAC-256.
package nts

import (
	"bytes"
	"crypto/rand"
	"errors"

	"github.com/secure-io/siv-go"

	"example.com/ntp-pester/net/ntp"
	"example.com/ntp-pester/net/ntske"
)

// UniqueIDLen is the length of the Unique Identifier value sent in requests
// (RFC 8915 requires at least 32 octets).
const UniqueIDLen = 32

var (
	errNoAuthenticator      = errors.New("packet does not contain a valid authenticator")
	errNoUniqueID           = errors.New("packet does not contain a unique identifier")
	errInvalidAuthenticator = errors.New("malformed authenticator extension field")
	errUnexpectedResponseID = errors.New("unexpected response ID")
)

// Packet is the extension-field view of an NTS-protected NTP packet on top
// of a fixed 48 byte header. On encode, Cookies and CookiePlaceholders
// become plaintext fields covered by the authenticator, while
// EncryptedCookies ride inside the authenticator's ciphertext (the form
// servers use for replies). On decode, cookies from both positions are
// collected into Cookies.
type Packet struct {
	NTPHeader          []byte
	UniqueID           []byte
	Cookies            [][]byte
	CookiePlaceholders [][]byte
	EncryptedCookies   [][]byte
	Key                []byte
}

// NewRequestPacket builds an NTS request around ntpHeader: a fresh unique
// identifier, the given cookie, and numCookies-1 placeholders so that the
// reply replenishes the pool to numCookies. The returned ID correlates the
// response.
func NewRequestPacket(ntpHeader []byte, cookie, c2sKey []byte, numCookies int) (*Packet, []byte, error) {
	if len(ntpHeader) != ntp.HeaderLen {
		panic("unexpected NTP header")
	}

	id := make([]byte, UniqueIDLen)
	_, err := rand.Read(id)
	if err != nil {
		return nil, nil, err
	}

	pkt := &Packet{
		NTPHeader: ntpHeader,
		UniqueID:  id,
		Cookies:   [][]byte{cookie},
		Key:       c2sKey,
	}
	placeholder := make([]byte, len(cookie))
	for i := 1; i < numCookies; i++ {
		pkt.CookiePlaceholders = append(pkt.CookiePlaceholders, placeholder)
	}

	return pkt, id, nil
}

// EncodePacket encodes pkt into *b: header, unique identifier, cookies,
// placeholders, then the authenticator sealing everything before it.
func EncodePacket(b *[]byte, pkt *Packet) error {
	if len(pkt.NTPHeader) != ntp.HeaderLen {
		panic("unexpected NTP header")
	}

	buf := append((*b)[:0], pkt.NTPHeader...)
	buf = ntp.AppendExtension(buf, ntp.ExtUniqueIdentifier, pkt.UniqueID)
	for _, c := range pkt.Cookies {
		buf = ntp.AppendExtension(buf, ntp.ExtCookie, c)
	}
	for _, c := range pkt.CookiePlaceholders {
		buf = ntp.AppendExtension(buf, ntp.ExtCookiePlaceholder, c)
	}

	var plaintext []byte
	for _, c := range pkt.EncryptedCookies {
		plaintext = ntp.AppendExtension(plaintext, ntp.ExtCookie, c)
	}

	aessiv, err := siv.NewCMAC(pkt.Key)
	if err != nil {
		return err
	}
	nonce := make([]byte, 16)
	_, err = rand.Read(nonce)
	if err != nil {
		return err
	}
	// Same alignment constraint as on decode: seal over a copy of the
	// packet bytes, not over the caller's buffer.
	additional := append([]byte(nil), buf...)
	ciphertext := aessiv.Seal(nil, nonce, plaintext, additional)

	value := make([]byte, 0, 4+len(nonce)+len(ciphertext))
	value = append(value,
		byte(len(nonce)>>8), byte(len(nonce)),
		byte(len(ciphertext)>>8), byte(len(ciphertext)))
	value = append(value, nonce...)
	value = append(value, ciphertext...)

	buf = ntp.AppendExtension(buf, ntp.ExtAuthenticator, value)
	*b = buf
	return nil
}

// DecodePacket decodes and authenticates an NTS packet. The authenticator is
// verified with key over all preceding bytes; cookies found in the clear and
// inside the decrypted fields are collected into pkt.Cookies. A packet
// without a valid authenticator or unique identifier is rejected.
func DecodePacket(pkt *Packet, b []byte, key []byte) error {
	if len(b) < ntp.HeaderLen {
		return ntp.ErrTruncatedPacket
	}
	pkt.NTPHeader = b[:ntp.HeaderLen]

	authenticated := false
	off := ntp.HeaderLen
	for len(b)-off >= 4 {
		typ := uint16(b[off])<<8 | uint16(b[off+1])
		length := int(uint16(b[off+2])<<8 | uint16(b[off+3]))
		if length < 4 || length > len(b)-off {
			return ntp.ErrInvalidExtensionLength
		}
		value := b[off+4 : off+length]

		switch typ {
		case ntp.ExtUniqueIdentifier:
			pkt.UniqueID = append([]byte(nil), value...)

		case ntp.ExtCookie:
			pkt.Cookies = append(pkt.Cookies, append([]byte(nil), value...))

		case ntp.ExtCookiePlaceholder:
			pkt.CookiePlaceholders = append(pkt.CookiePlaceholders, append([]byte(nil), value...))

		case ntp.ExtAuthenticator:
			if len(value) < 4 {
				return errInvalidAuthenticator
			}
			nonceLen := int(uint16(value[0])<<8 | uint16(value[1]))
			cipherLen := int(uint16(value[2])<<8 | uint16(value[3]))
			if 4+nonceLen+cipherLen > len(value) {
				return errInvalidAuthenticator
			}
			// The AEAD's assembly routines require aligned input
			// buffers; hand it copies rather than views into the
			// datagram.
			nonce := append([]byte(nil), value[4:4+nonceLen]...)
			ciphertext := append([]byte(nil), value[4+nonceLen:4+nonceLen+cipherLen]...)
			additional := append([]byte(nil), b[:off]...)

			aessiv, err := siv.NewCMAC(key)
			if err != nil {
				return err
			}
			plaintext, err := aessiv.Open(nil, nonce, ciphertext, additional)
			if err != nil {
				return err
			}
			err = pkt.decodeEncryptedFields(plaintext)
			if err != nil {
				return err
			}
			authenticated = true

		default:
			// Unknown extension field. Skip it.
		}
		off += length
	}

	if !authenticated {
		return errNoAuthenticator
	}
	if pkt.UniqueID == nil {
		return errNoUniqueID
	}
	return nil
}

func (pkt *Packet) decodeEncryptedFields(b []byte) error {
	off := 0
	for len(b)-off >= 4 {
		typ := uint16(b[off])<<8 | uint16(b[off+1])
		length := int(uint16(b[off+2])<<8 | uint16(b[off+3]))
		if length < 4 || length > len(b)-off {
			return ntp.ErrInvalidExtensionLength
		}
		value := b[off+4 : off+length]
		if typ == ntp.ExtCookie {
			cookie := append([]byte(nil), value...)
			pkt.Cookies = append(pkt.Cookies, cookie)
			pkt.EncryptedCookies = append(pkt.EncryptedCookies, cookie)
		}
		off += length
	}
	return nil
}

// ProcessResponse checks the unique identifier echo and hands the fresh
// cookies of an authenticated response back to the fetcher's pool.
func ProcessResponse(fetcher *ntske.Fetcher, pkt *Packet, reqID []byte) error {
	if !bytes.Equal(reqID, pkt.UniqueID) {
		return errUnexpectedResponseID
	}
	for _, cookie := range pkt.Cookies {
		fetcher.StoreCookie(cookie)
	}
	return nil
}
