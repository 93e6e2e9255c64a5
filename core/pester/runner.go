// Package pester is the conformance harness core: it drives registered test
// cases against one target server and classifies how each of them ended.
package pester

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"example.com/ntp-pester/net/ntp"
	"example.com/ntp-pester/net/ntske"
	"example.com/ntp-pester/net/udp"
)

// Case is one registered test: a stable name and a body. The body signals its
// verdict through the error it returns; see classify.
type Case struct {
	Name string
	Run  func(t *Target) error
}

// UDPCase wraps a body operating on a plain UDP connection. After a body
// completes without failing, the server is polled once more on a fresh
// connection to verify the case did not wedge it.
func UDPCase(name string, body func(conn *Connection) error) Case {
	return Case{Name: name, Run: func(t *Target) error {
		conn, err := t.UDP()
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close() }()
		err = body(conn)
		if err != nil {
			return err
		}
		return serverStillAlive(t)
	}}
}

// NTSCase wraps a body that needs a cookie with its key material. The
// post-body liveness check uses a fresh cookie so a case that burned its
// cookie cannot mask a wedged server.
func NTSCase(name string, body func(conn *Connection, data ntske.Data) error) Case {
	return Case{Name: name, Run: func(t *Target) error {
		data, err := t.TakeCookie()
		if err != nil {
			return err
		}
		conn, err := t.UDP()
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close() }()
		err = body(conn, data)
		if err != nil {
			return err
		}
		return serverStillAliveNTS(t)
	}}
}

// KECase wraps a body that runs its own key exchange conversation.
func KECase(name string, body func(ke *ntske.KeyExchange) error) Case {
	return Case{Name: name, Run: func(t *Target) error {
		ke, err := t.KE()
		if err != nil {
			return err
		}
		defer func() { _ = ke.Close() }()
		return body(ke)
	}}
}

func serverStillAlive(t *Target) error {
	conn, err := t.UDP()
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	req := new(ntp.Packet)
	req.SetVersion(4)
	req.SetMode(ntp.ModeClient)
	req.TransmitTime = ntp.Time64FromTime(time.Now())

	resp, err := conn.Pester(req)
	switch {
	case errors.Is(err, udp.ErrTimeout):
		return Fail("After test: Server did no longer reply to normal poll")
	case err != nil:
		var failErr *FailError
		if errors.As(err, &failErr) {
			return Fail("After test: Poll was answered by invalid response")
		}
		return err
	}
	err = ntp.ValidateServerResponse(resp, req)
	if err != nil {
		return Failf("After test: Poll was answered by invalid response: %v", err)
	}
	return nil
}

func serverStillAliveNTS(t *Target) error {
	data, err := t.TakeCookie()
	if err != nil {
		return err
	}
	conn, err := t.UDP()
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	_, plain, err := conn.PesterNTS(data, 1)
	switch {
	case errors.Is(err, udp.ErrTimeout):
		return Fail("After test: Server did no longer reply to normal NTS poll")
	case err != nil:
		var failErr *FailError
		if errors.As(err, &failErr) {
			return Fail("After test: NTS poll was answered by invalid response")
		}
		return err
	}
	err = ntp.ValidateResponseMetadata(plain)
	if err != nil {
		return Failf("After test: NTS poll was answered by invalid response: %v", err)
	}
	return nil
}

// Run executes the cases in registration order against the target and
// collects exactly one result per case. A panicking body is contained and
// recorded as errored; it never takes down the run.
func Run(log *zap.Logger, t *Target, cases []Case) *Report {
	report := new(Report)
	for _, c := range cases {
		log.Debug("running test case", zap.String("name", c.Name))
		res := classify(c.Name, runCase(t, c))
		log.Debug("test case finished",
			zap.String("name", c.Name),
			zap.Stringer("outcome", res.Outcome))
		report.add(res)
	}
	return report
}

func runCase(t *Target, c Case) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("test case panicked: %v", r)
		}
	}()
	return c.Run(t)
}
