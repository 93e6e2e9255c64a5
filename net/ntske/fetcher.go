package ntske

import (
	"crypto/tls"
	"errors"
	"time"

	"go.uber.org/zap"
)

var errServerSwitched = errors.New("NTS-KE server switched the UDP endpoint between exchanges")

// Fetcher owns the cookie pool for one target. It re-runs the key exchange
// whenever the pool runs dry and puts cookies harvested from authenticated
// responses back into the pool.
type Fetcher struct {
	TLSConfig *tls.Config
	Host      string
	Port      int
	Timeout   time.Duration
	Log       *zap.Logger

	data        Data
	established bool
	udpServer   string
	udpPort     uint16
}

func (f *Fetcher) exchangeKeys() error {
	ke, err := Connect(f.Host, f.Port, f.TLSConfig, f.Timeout)
	if err != nil {
		return err
	}
	defer func() { _ = ke.Close() }()

	data, err := ke.DoRequest()
	if err != nil {
		return err
	}

	if f.established && (data.Server != f.udpServer || data.Port != f.udpPort) {
		return errServerSwitched
	}

	logData(f.Log, data)
	f.data = data
	f.udpServer = data.Server
	f.udpPort = data.Port
	f.established = true
	return nil
}

// Establish runs the initial key exchange if none has happened yet.
func (f *Fetcher) Establish() error {
	if f.established {
		return nil
	}
	return f.exchangeKeys()
}

// Endpoint returns the UDP server and port negotiated by the last key
// exchange. It must not be called before Establish succeeded.
func (f *Fetcher) Endpoint() (string, uint16) {
	if !f.established {
		panic("no key exchange established")
	}
	return f.udpServer, f.udpPort
}

// FetchData returns the current key material with a non-empty cookie pool,
// running or re-running the key exchange as needed. The first cookie of the
// returned data is consumed from the pool.
func (f *Fetcher) FetchData() (data Data, err error) {
	if len(f.data.Cookie) == 0 {
		err = f.exchangeKeys()
		if err != nil {
			return data, err
		}
	}
	data = f.data
	f.data.Cookie = f.data.Cookie[1:]
	return data, nil
}

// StoreCookie returns a fresh cookie from an authenticated response to the
// pool.
func (f *Fetcher) StoreCookie(cookie []byte) {
	f.data.Cookie = append(f.data.Cookie, cookie)
}

// NumCookies reports the current pool size.
func (f *Fetcher) NumCookies() int {
	return len(f.data.Cookie)
}
