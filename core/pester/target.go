package pester

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"

	"go.uber.org/zap"

	"example.com/ntp-pester/net/ntske"
	"example.com/ntp-pester/net/udp"
)

// Target is everything the test cases need to talk to one server under test.
// It hands out fresh connections per case so that one misbehaving exchange
// cannot poison the next.
type Target struct {
	cfg     Config
	log     *zap.Logger
	remote  *net.UDPAddr
	tlsCfg  tls.Config
	fetcher *ntske.Fetcher
}

// NewTarget resolves the target endpoint and, with NTS enabled, runs the
// initial key exchange. A target that cannot be reached or authenticated is
// rejected here rather than failing every case individually.
func NewTarget(cfg Config, log *zap.Logger) (*Target, error) {
	remote, err := net.ResolveUDPAddr("udp",
		net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("resolve target address %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	t := &Target{cfg: cfg, log: log, remote: remote}
	t.tlsCfg = tls.Config{MinVersion: tls.VersionTLS13}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no usable certificates in %s", cfg.CAFile)
		}
		t.tlsCfg.RootCAs = pool
	}

	if cfg.NTS {
		t.fetcher = &ntske.Fetcher{
			TLSConfig: &t.tlsCfg,
			Host:      cfg.Host,
			Port:      cfg.KEPort,
			Timeout:   cfg.Timeout,
			Log:       log,
		}
		err = t.fetcher.Establish()
		if err != nil {
			return nil, fmt.Errorf("establish NTS keys with %s:%d: %w",
				cfg.Host, cfg.KEPort, err)
		}
	}

	return t, nil
}

// UDP opens a fresh connection for one test case. With NTS enabled, an
// endpoint redirection negotiated by the key exchange takes precedence over
// the configured address.
func (t *Target) UDP() (*Connection, error) {
	remote := t.remote
	if t.fetcher != nil {
		server, port := t.fetcher.Endpoint()
		if server != t.cfg.Host || int(port) != t.cfg.Port {
			addr, err := net.ResolveUDPAddr("udp",
				net.JoinHostPort(server, strconv.Itoa(int(port))))
			if err != nil {
				return nil, fmt.Errorf("resolve negotiated address %s:%d: %w", server, port, err)
			}
			remote = addr
		}
	}

	conn, err := udp.Dial(remote, t.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &Connection{conn: conn, fetcher: t.fetcher, log: t.log}, nil
}

// KE opens a fresh key exchange connection for one test case. Cases needing
// it are skipped when NTS is not enabled for this target.
func (t *Target) KE() (*ntske.KeyExchange, error) {
	if !t.cfg.NTS {
		return nil, Skip("NTS is not enabled for this target")
	}
	return ntske.Connect(t.cfg.Host, t.cfg.KEPort, &t.tlsCfg, t.cfg.Timeout)
}

// TakeCookie pops one cookie with its key material from the pool, re-running
// the key exchange if the pool is empty.
func (t *Target) TakeCookie() (ntske.Data, error) {
	if t.fetcher == nil {
		return ntske.Data{}, Skip("NTS is not enabled for this target")
	}
	return t.fetcher.FetchData()
}
