package ntp

import (
	"errors"
)

var (
	errUnexpectedResponse = errors.New("unexpected response structure")
	errUnrelatedResponse  = errors.New("response does not match request")
)

// ValidateResponseMetadata checks the header fields a well-behaved server
// reply must carry.
func ValidateResponseMetadata(resp *Packet) error {
	// Based on Ntimed by Poul-Henning Kamp, https://github.com/bsdphk/Ntimed

	if resp.LeapIndicator() == LeapIndicatorUnknown {
		return errUnexpectedResponse
	}
	if resp.Version() != 3 && resp.Version() != 4 {
		return errUnexpectedResponse
	}
	if resp.Mode() != ModeServer {
		return errUnexpectedResponse
	}
	if resp.Stratum == 0 || resp.Stratum > 15 {
		return errUnexpectedResponse
	}
	return nil
}

// ValidateServerResponse checks that resp is a plausible server reply to req:
// sane metadata and the origin timestamp echoing the request's transmit
// timestamp.
func ValidateServerResponse(resp, req *Packet) error {
	err := ValidateResponseMetadata(resp)
	if err != nil {
		return err
	}
	if resp.OriginTime != req.TransmitTime {
		return errUnrelatedResponse
	}
	return nil
}
