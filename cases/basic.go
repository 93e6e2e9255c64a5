package cases

import (
	"errors"

	"example.com/ntp-pester/core/pester"
	"example.com/ntp-pester/net/ntp"
	"example.com/ntp-pester/net/udp"
)

// A normal version 4 poll must be answered with a matching, well-formed
// server packet.
func respondsToVersion4(conn *pester.Connection) error {
	req := newClientPacket(4)
	resp, err := conn.Pester(req)
	if errors.Is(err, udp.ErrTimeout) {
		return pester.Fail("Server did not respond to a normal version 4 poll")
	}
	if err != nil {
		return err
	}

	if v := resp.Version(); v != 4 {
		return pester.Failf("Incorrect version in server response: %d", v)
	}
	if m := resp.Mode(); m != ntp.ModeServer {
		return pester.Failf("Incorrect mode in server response: %d", m)
	}
	err = ntp.ValidateServerResponse(resp, req)
	if err != nil {
		return pester.Failf("Server response not matching original packet: %v", err)
	}
	if !resp.TransmitTime.After(resp.ReceiveTime) {
		return pester.Fail("Receive should happen before send of response")
	}
	return nil
}

// NTPv5 is not released yet, so a conformant server must stay silent on
// version 5 requests rather than answer them.
func ignoresVersion5(conn *pester.Connection) error {
	req := newClientPacket(5)
	var b []byte
	ntp.EncodePacket(&b, req)

	_, err := conn.PesterRaw(b)
	switch {
	case errors.Is(err, udp.ErrTimeout):
		return nil
	case err != nil:
		var failErr *pester.FailError
		if errors.As(err, &failErr) {
			return pester.Fail("Should not respond to ntp version 5 requests")
		}
		return err
	}
	return pester.Fail("Should not respond to ntp version 5 requests")
}
