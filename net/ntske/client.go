package ntske

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"example.com/ntp-pester/net/ntp"
)

var ErrNoNTSKE = errors.New("server does not support ntske/1")

// NegotiationError indicates that the key exchange completed on the wire but
// did not produce a usable negotiation result.
type NegotiationError struct {
	Cause string
}

func (e NegotiationError) Error() string {
	return "NTS-KE negotiation failed: " + e.Cause
}

// KeyExchange is a single short-lived client connection to an NTS-KE server.
// It is closed once the negotiation result has been collected; the NTP phase
// never reuses it.
type KeyExchange struct {
	conn    *tls.Conn
	reader  *bufio.Reader
	host    string
	timeout time.Duration
}

// Connect opens a TLS connection to the NTS-KE server at host:port. The
// certificate chain is verified against the roots in cfg (or the platform
// defaults when cfg.RootCAs is nil); the handshake and all subsequent reads
// and writes are bounded by timeout.
func Connect(host string, port int, cfg *tls.Config, timeout time.Duration) (*KeyExchange, error) {
	cfg = cfg.Clone()
	cfg.NextProtos = []string{alpn}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}

	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: timeout},
		"tcp", net.JoinHostPort(host, strconv.Itoa(port)), cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to NTS-KE server %s:%d: %w", host, port, err)
	}

	state := conn.ConnectionState()
	if state.NegotiatedProtocol != alpn {
		_ = conn.Close()
		return nil, ErrNoNTSKE
	}

	return &KeyExchange{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		host:    host,
		timeout: timeout,
	}, nil
}

func (ke *KeyExchange) Close() error {
	return ke.conn.Close()
}

// ConnectionState exposes the TLS session for key export.
func (ke *KeyExchange) ConnectionState() tls.ConnectionState {
	return ke.conn.ConnectionState()
}

// Send packs msg and writes it to the server within the exchange timeout.
func (ke *KeyExchange) Send(msg ExchangeMsg) error {
	buf, err := msg.Pack()
	if err != nil {
		return err
	}
	err = ke.conn.SetWriteDeadline(time.Now().Add(ke.timeout))
	if err != nil {
		return err
	}
	_, err = ke.conn.Write(buf.Bytes())
	if err != nil {
		return fmt.Errorf("write NTS-KE message: %w", err)
	}
	return nil
}

// Exchange sends msg and reads the complete reply. Stream closure before End
// of Message resolves to ErrUnexpectedClose, never to a hang: each read is
// bounded by the connection deadline and the record count is capped.
func (ke *KeyExchange) Exchange(msg ExchangeMsg) (*Response, error) {
	err := ke.Send(msg)
	if err != nil {
		return nil, err
	}

	err = ke.conn.SetReadDeadline(time.Now().Add(ke.timeout))
	if err != nil {
		return nil, err
	}
	records, err := ReadMessage(ke.reader)
	if err != nil {
		return nil, err
	}

	return ParseResponse(records)
}

// ExchangeRequest runs Exchange for a structured request.
func (ke *KeyExchange) ExchangeRequest(req Request) (*Response, error) {
	return ke.Exchange(req.Message())
}

// DoRequest performs the default negotiation and collects everything the NTP
// phase needs. An Error record from the server takes precedence over any
// Server/Port redirection it may also have sent.
func (ke *KeyExchange) DoRequest() (Data, error) {
	resp, err := ke.ExchangeRequest(DefaultRequest())
	if err != nil {
		return Data{}, err
	}

	if len(resp.Errors) != 0 {
		return Data{}, NegotiationError{
			Cause: fmt.Sprintf("server replied with error code %d", resp.Errors[0])}
	}
	if !resp.HasNextProtos || len(resp.NextProtos) != 1 || resp.NextProtos[0] != NTPv4 {
		return Data{}, NegotiationError{
			Cause: fmt.Sprintf("unexpected next protocol negotiation result: %v", resp.NextProtos)}
	}
	if !resp.HasAeads || len(resp.Aeads) != 1 || resp.Aeads[0] != AES_SIV_CMAC_256 {
		return Data{}, NegotiationError{
			Cause: fmt.Sprintf("unexpected AEAD negotiation result: %v", resp.Aeads)}
	}
	if len(resp.Cookies) == 0 {
		return Data{}, NegotiationError{Cause: "server issued no cookies"}
	}

	data := Data{
		Server: ke.host,
		Port:   ntp.ServerPort,
		Cookie: resp.Cookies,
		Algo:   resp.Aeads[0],
	}
	if resp.HasServer {
		data.Server = resp.Server
	}
	if resp.HasPort {
		data.Port = resp.Port
	}

	err = ExportKeys(ke.conn.ConnectionState(), &data)
	if err != nil {
		return Data{}, fmt.Errorf("export NTS keys: %w", err)
	}

	return data, nil
}
