package pester

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"example.com/ntp-pester/net/ntp"
	"example.com/ntp-pester/net/nts"
	"example.com/ntp-pester/net/ntske"
	"example.com/ntp-pester/net/udp"
)

// Connection is the UDP conversation one test case has with the target. All
// receives are bounded by the target timeout.
type Connection struct {
	conn    *udp.Conn
	fetcher *ntske.Fetcher
	log     *zap.Logger
}

func (c *Connection) Close() error {
	return c.conn.Close()
}

func invalidReply(err error, raw []byte) error {
	return FailResponse(
		fmt.Sprintf("Server replied with invalid packet: %v", err),
		hex.EncodeToString(raw))
}

// Pester encodes req, sends it, and waits for the response echoing its
// transmit timestamp in the origin field. Unrelated datagrams are discarded
// until the deadline expires; a reply that does not parse fails the case.
func (c *Connection) Pester(req *ntp.Packet) (*ntp.Packet, error) {
	var b []byte
	ntp.EncodePacket(&b, req)
	return c.exchange(b, func(resp *ntp.Packet) bool {
		return resp.OriginTime == req.TransmitTime
	})
}

// PesterRaw sends the datagram exactly as given and returns the first reply.
// There is nothing to correlate on, so the caller is expected to run this on
// an otherwise quiet connection.
func (c *Connection) PesterRaw(b []byte) (*ntp.Packet, error) {
	return c.exchange(b, func(resp *ntp.Packet) bool { return true })
}

func (c *Connection) exchange(b []byte, matches func(*ntp.Packet) bool) (*ntp.Packet, error) {
	err := c.conn.Send(b)
	if err != nil {
		return nil, err
	}

	deadline := c.conn.Deadline()
	for {
		raw, err := c.conn.Receive(deadline)
		if err != nil {
			return nil, err
		}
		resp := new(ntp.Packet)
		err = ntp.DecodePacket(resp, raw)
		if err != nil {
			return nil, invalidReply(err, raw)
		}
		if matches(resp) {
			return resp, nil
		}
		c.log.Debug("discarding unrelated datagram",
			zap.Object("packet", ntp.PacketMarshaler{Pkt: resp}))
	}
}

// PesterNTS sends an NTS protected poll using the given key material and
// returns the authenticated response together with its plain packet view.
// The request asks the server to restore the pool to numCookies cookies, and
// fresh cookies from the response are handed back to the pool. Responses are
// correlated by the unique identifier.
func (c *Connection) PesterNTS(data ntske.Data, numCookies int) (*nts.Packet, *ntp.Packet, error) {
	hdr := ntp.Packet{}
	hdr.SetVersion(4)
	hdr.SetMode(ntp.ModeClient)
	hdr.TransmitTime = ntp.Time64FromTime(time.Now())
	var hdrBytes []byte
	ntp.EncodePacket(&hdrBytes, &hdr)

	req, id, err := nts.NewRequestPacket(hdrBytes, data.Cookie[0], data.C2sKey, numCookies)
	if err != nil {
		return nil, nil, err
	}
	var b []byte
	err = nts.EncodePacket(&b, req)
	if err != nil {
		return nil, nil, err
	}

	err = c.conn.Send(b)
	if err != nil {
		return nil, nil, err
	}

	deadline := c.conn.Deadline()
	for {
		raw, err := c.conn.Receive(deadline)
		if err != nil {
			return nil, nil, err
		}
		var plain ntp.Packet
		err = ntp.DecodePacket(&plain, raw)
		if err != nil {
			return nil, nil, invalidReply(err, raw)
		}
		if !bytes.Equal(plain.UniqueID(), id) {
			c.log.Debug("discarding unrelated datagram",
				zap.Object("packet", ntp.PacketMarshaler{Pkt: &plain}))
			continue
		}

		resp := new(nts.Packet)
		err = nts.DecodePacket(resp, raw, data.S2cKey)
		if err != nil {
			return nil, nil, FailResponse(
				fmt.Sprintf("Server replied with invalid NTS packet: %v", err),
				hex.EncodeToString(raw))
		}
		if c.fetcher != nil {
			err = nts.ProcessResponse(c.fetcher, resp, id)
			if err != nil {
				return nil, nil, err
			}
		}
		return resp, &plain, nil
	}
}
