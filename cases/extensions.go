package cases

import (
	"bytes"
	"errors"

	"example.com/ntp-pester/core/pester"
	"example.com/ntp-pester/net/ntp"
	"example.com/ntp-pester/net/udp"
)

// Extension fields a server cannot handle must be ignored, not echoed and
// not answered with extension fields of their own.
func unknownExtensionsAreIgnored(conn *pester.Connection) error {
	req := newClientPacket(4)
	req.Extensions = []ntp.ExtensionField{{Type: 0, Value: nil}}

	resp, err := conn.Pester(req)
	if errors.Is(err, udp.ErrTimeout) {
		return pester.Fail("Server did not respond to a poll carrying an unknown extension field")
	}
	if err != nil {
		return err
	}

	err = ntp.ValidateServerResponse(resp, req)
	if err != nil {
		return pester.Failf("Server response not matching original packet: %v", err)
	}
	if len(resp.Extensions) != 0 {
		return pester.Failf(
			"Received an extension field in response to an invalid extension field (type 0x%04x)",
			resp.Extensions[0].Type)
	}
	return nil
}

// A server supporting NTS replies with the unique identifier extension field
// exactly as sent, even on a request without NTS protection.
func uniqueIDIsReturned(conn *pester.Connection) error {
	uid := make([]byte, 32)
	for i := range uid {
		uid[i] = byte(i)
	}
	req := newClientPacket(4)
	req.Extensions = []ntp.ExtensionField{{Type: ntp.ExtUniqueIdentifier, Value: uid}}

	resp, err := conn.Pester(req)
	if errors.Is(err, udp.ErrTimeout) {
		return pester.Fail("Server did not respond to a poll carrying a unique identifier")
	}
	if err != nil {
		return err
	}

	err = ntp.ValidateServerResponse(resp, req)
	if err != nil {
		return pester.Failf("Server response not matching original packet: %v", err)
	}
	if len(resp.Extensions) == 0 {
		return pester.Fail("Server did not reply with unique id extension field")
	}
	if len(resp.Extensions) >= 2 {
		return pester.Failf("Too many extension fields provided by server: %d", len(resp.Extensions))
	}
	ef := resp.Extensions[0]
	if ef.Type != ntp.ExtUniqueIdentifier || !bytes.Equal(ef.Value, uid) {
		return pester.Fail("Response UID does not match request")
	}
	return nil
}
