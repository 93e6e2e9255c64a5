package nts_test

import (
	"bytes"
	"testing"

	"example.com/ntp-pester/net/ntp"
	"example.com/ntp-pester/net/nts"
)

func testHeader(t *testing.T, mode uint8) []byte {
	t.Helper()
	p := ntp.Packet{}
	p.SetVersion(4)
	p.SetMode(mode)
	var b []byte
	ntp.EncodePacket(&b, &p)
	return b
}

func testKey(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, 32)
}

func TestRequestRoundTrip(t *testing.T) {
	key := testKey(0x42)
	cookie := bytes.Repeat([]byte{0xc0}, 100)

	req, id, err := nts.NewRequestPacket(testHeader(t, ntp.ModeClient), cookie, key, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != nts.UniqueIDLen {
		t.Fatalf("unexpected unique ID length: %d", len(id))
	}
	if len(req.CookiePlaceholders) != 3 {
		t.Fatalf("got %d placeholders, want 3", len(req.CookiePlaceholders))
	}

	var b []byte
	err = nts.EncodePacket(&b, req)
	if err != nil {
		t.Fatal(err)
	}

	// The header and plaintext fields must also decode as a plain packet.
	var plain ntp.Packet
	err = ntp.DecodePacket(&plain, b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plain.UniqueID(), id) {
		t.Fatalf("unique ID not visible in plain decode")
	}

	var got nts.Packet
	err = nts.DecodePacket(&got, b, key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.UniqueID, id) {
		t.Fatalf("unique ID mismatch: %x != %x", got.UniqueID, id)
	}
	if len(got.Cookies) != 1 || !bytes.Equal(got.Cookies[0], cookie) {
		t.Fatalf("cookie mismatch: %x", got.Cookies)
	}
}

func TestResponseRoundTripWithEncryptedCookies(t *testing.T) {
	key := testKey(0x17)
	id := bytes.Repeat([]byte{0xaa}, nts.UniqueIDLen)

	resp := &nts.Packet{
		NTPHeader: testHeader(t, ntp.ModeServer),
		UniqueID:  id,
		EncryptedCookies: [][]byte{
			bytes.Repeat([]byte{1}, 100),
			bytes.Repeat([]byte{2}, 100),
			bytes.Repeat([]byte{3}, 100),
			bytes.Repeat([]byte{4}, 100),
		},
		Key: key,
	}
	var b []byte
	err := nts.EncodePacket(&b, resp)
	if err != nil {
		t.Fatal(err)
	}

	var got nts.Packet
	err = nts.DecodePacket(&got, b, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Cookies) != 4 {
		t.Fatalf("got %d cookies, want 4", len(got.Cookies))
	}
	for i, c := range got.Cookies {
		if !bytes.Equal(c, resp.EncryptedCookies[i]) {
			t.Fatalf("cookie %d mismatch", i)
		}
	}
}

func TestDecodeFromUnalignedBuffer(t *testing.T) {
	key := testKey(0x55)
	resp := &nts.Packet{
		NTPHeader:        testHeader(t, ntp.ModeServer),
		UniqueID:         bytes.Repeat([]byte{0xaa}, nts.UniqueIDLen),
		EncryptedCookies: [][]byte{bytes.Repeat([]byte{7}, 100)},
		Key:              key,
	}
	var b []byte
	err := nts.EncodePacket(&b, resp)
	if err != nil {
		t.Fatal(err)
	}

	// Re-house the packet at every small offset so the authenticator's
	// nonce and ciphertext land on every alignment a receive buffer can
	// produce.
	for shift := 0; shift < 16; shift++ {
		backing := make([]byte, shift+len(b))
		copy(backing[shift:], b)

		var got nts.Packet
		err = nts.DecodePacket(&got, backing[shift:], key)
		if err != nil {
			t.Fatalf("decode failed at offset %d: %v", shift, err)
		}
		if len(got.Cookies) != 1 || !bytes.Equal(got.Cookies[0], resp.EncryptedCookies[0]) {
			t.Fatalf("cookie mismatch at offset %d", shift)
		}
	}
}

func TestDecodeRejectsWrongKey(t *testing.T) {
	key := testKey(0x42)
	cookie := bytes.Repeat([]byte{0xc0}, 100)
	req, _, err := nts.NewRequestPacket(testHeader(t, ntp.ModeClient), cookie, key, 1)
	if err != nil {
		t.Fatal(err)
	}
	var b []byte
	err = nts.EncodePacket(&b, req)
	if err != nil {
		t.Fatal(err)
	}

	var got nts.Packet
	err = nts.DecodePacket(&got, b, testKey(0x43))
	if err == nil {
		t.Fatal("expected authentication failure with wrong key")
	}
}

func TestDecodeRejectsTamperedPacket(t *testing.T) {
	key := testKey(0x42)
	cookie := bytes.Repeat([]byte{0xc0}, 100)
	req, _, err := nts.NewRequestPacket(testHeader(t, ntp.ModeClient), cookie, key, 1)
	if err != nil {
		t.Fatal(err)
	}
	var b []byte
	err = nts.EncodePacket(&b, req)
	if err != nil {
		t.Fatal(err)
	}

	b[ntp.HeaderLen+8] ^= 0xff // flip a bit inside the unique identifier

	var got nts.Packet
	err = nts.DecodePacket(&got, b, key)
	if err == nil {
		t.Fatal("expected authentication failure for tampered packet")
	}
}

func TestDecodeRejectsUnauthenticated(t *testing.T) {
	// A plain packet with extension fields but no authenticator must not
	// pass as an NTS packet.
	b := testHeader(t, ntp.ModeServer)
	b = ntp.AppendExtension(b, ntp.ExtUniqueIdentifier, bytes.Repeat([]byte{0xaa}, 32))

	var got nts.Packet
	err := nts.DecodePacket(&got, b, testKey(0x42))
	if err == nil {
		t.Fatal("expected error for packet without authenticator")
	}
}
