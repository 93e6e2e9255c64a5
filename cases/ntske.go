package cases

import (
	"example.com/ntp-pester/core/pester"
	"example.com/ntp-pester/net/ntske"
)

func uint16SliceEqual(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// A valid default negotiation must yield NTPv4 with AES-SIV-CMAC-256, eight
// cookies, and neither errors nor warnings.
func keHappy(ke *ntske.KeyExchange) error {
	resp, err := ke.ExchangeRequest(ntske.DefaultRequest())
	if err != nil {
		return err
	}

	if !resp.HasNextProtos || !uint16SliceEqual(resp.NextProtos, []uint16{ntske.NTPv4}) {
		return pester.FailResponse(
			"Server did reply with different protocols then we asked for", resp.String())
	}
	if !resp.HasAeads || !uint16SliceEqual(resp.Aeads, []uint16{ntske.AES_SIV_CMAC_256}) {
		return pester.FailResponse(
			"Server did reply with different AEAD then we asked for", resp.String())
	}
	if len(resp.Errors) != 0 {
		return pester.FailResponse(
			"Server did reply with error code to normal request", resp.String())
	}
	if len(resp.Warnings) != 0 {
		return pester.FailResponse(
			"Server did reply with warning code to normal request", resp.String())
	}
	if len(resp.Cookies) != 8 {
		return pester.FailResponse("Server did not reply with 8 cookies", resp.String())
	}
	return nil
}

// Proposing only a reserved protocol ID must yield an empty next protocol
// list (RFC 8915, section 4.1.2).
func keErrorOnUnknownNextProtocol(ke *ntske.KeyExchange) error {
	resp, err := ke.ExchangeRequest(ntske.Request{
		NextProtos: []uint16{0xFFFF},
		Aeads:      []uint16{ntske.AES_SIV_CMAC_256},
	})
	if err != nil {
		return err
	}

	if !resp.HasNextProtos || len(resp.NextProtos) != 0 {
		return pester.FailResponse(
			"Server did not respond with empty next protocol", resp.String())
	}
	return nil
}

// An unknown protocol ID alongside NTPv4 must simply be ignored.
func keIgnoreUnknownExtraProtocols(ke *ntske.KeyExchange) error {
	resp, err := ke.ExchangeRequest(ntske.Request{
		NextProtos: []uint16{0xFFFF, ntske.NTPv4},
		Aeads:      []uint16{ntske.AES_SIV_CMAC_256},
	})
	if err != nil {
		return err
	}

	if !resp.HasNextProtos || !uint16SliceEqual(resp.NextProtos, []uint16{ntske.NTPv4}) {
		return pester.FailResponse(
			"Server did not respond with expected next protocol", resp.String())
	}
	return nil
}

// Proposing only an unknown AEAD algorithm must yield an empty AEAD list.
func keErrorOnUnknownAead(ke *ntske.KeyExchange) error {
	resp, err := ke.ExchangeRequest(ntske.Request{
		NextProtos: []uint16{ntske.NTPv4},
		Aeads:      []uint16{0xFFFF},
	})
	if err != nil {
		return err
	}

	if !resp.HasAeads || len(resp.Aeads) != 0 {
		return pester.FailResponse("Server did not respond with empty aead", resp.String())
	}
	return nil
}

// An unknown AEAD algorithm alongside AES-SIV-CMAC-256 must be ignored
// (RFC 8915, section 4.1.5).
func keIgnoreUnknownExtraAead(ke *ntske.KeyExchange) error {
	resp, err := ke.ExchangeRequest(ntske.Request{
		NextProtos: []uint16{ntske.NTPv4},
		Aeads:      []uint16{0xFFFF, ntske.AES_SIV_CMAC_256},
	})
	if err != nil {
		return err
	}

	if !resp.HasAeads || !uint16SliceEqual(resp.Aeads, []uint16{ntske.AES_SIV_CMAC_256}) {
		return pester.FailResponse("Server did not respond with expected aead", resp.String())
	}
	return nil
}

// Even an empty message must be answered, with a Bad Request error record
// (RFC 8915, section 4.1.3).
func keEmptyMessageResolvesInError(ke *ntske.KeyExchange) error {
	var msg ntske.ExchangeMsg
	msg.AddRecord(ntske.End{})

	resp, err := ke.Exchange(msg)
	if err != nil {
		return err
	}

	if !uint16SliceEqual(resp.Errors, []uint16{ntske.ErrorCodeBadRequest}) {
		return pester.FailResponse(
			"Server did not respond with error to empty message", resp.String())
	}
	return nil
}
