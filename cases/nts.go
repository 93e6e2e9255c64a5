package cases

import (
	"errors"

	"example.com/ntp-pester/core/pester"
	"example.com/ntp-pester/net/ntp"
	"example.com/ntp-pester/net/ntske"
	"example.com/ntp-pester/net/udp"
)

// A normal NTS protected poll asking for four cookies must be answered with
// an authenticated response carrying exactly four fresh cookies.
func ntsHappy(conn *pester.Connection, data ntske.Data) error {
	resp, plain, err := conn.PesterNTS(data, 4)
	if errors.Is(err, udp.ErrTimeout) {
		return pester.Fail("Server did not respond to a normal NTS poll")
	}
	if err != nil {
		return err
	}

	err = ntp.ValidateResponseMetadata(plain)
	if err != nil {
		return pester.Failf("Response did not match request: %v", err)
	}
	if n := len(resp.Cookies); n != 4 {
		return pester.Failf("Server did not respond with the expected number of cookies: got %d, want 4", n)
	}
	return nil
}
