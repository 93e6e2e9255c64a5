package pester

import (
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"example.com/ntp-pester/net/ntp"
	"example.com/ntp-pester/net/ntske"
	"example.com/ntp-pester/net/udp"
)

// startResponder runs a minimal NTP server on the loopback interface that
// answers well-formed version 4 polls and stays silent on everything else.
// With maxReplies > 0 it goes mute after that many answers, simulating a
// server a test case has wedged.
func startResponder(t *testing.T, maxReplies int) int {
	t.Helper()
	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	go func() {
		replies := 0
		buf := make([]byte, udp.MaxPacketLen)
		for {
			n, addr, err := pc.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if maxReplies > 0 && replies >= maxReplies {
				continue
			}
			var req ntp.Packet
			err = ntp.DecodePacket(&req, buf[:n])
			if err != nil || req.Version() != 4 || req.Mode() != ntp.ModeClient {
				continue
			}
			var resp ntp.Packet
			resp.SetVersion(4)
			resp.SetMode(ntp.ModeServer)
			resp.Stratum = 2
			resp.OriginTime = req.TransmitTime
			now := ntp.Time64FromTime(time.Now())
			resp.ReceiveTime = now
			resp.TransmitTime = now
			var b []byte
			ntp.EncodePacket(&b, &resp)
			_, _ = pc.WriteToUDP(b, addr)
			replies++
		}
	}()

	return pc.LocalAddr().(*net.UDPAddr).Port
}

func testTarget(t *testing.T) *Target {
	t.Helper()
	cfg := Config{
		Host:    "127.0.0.1",
		Port:    startResponder(t, 0),
		Timeout: 250 * time.Millisecond,
	}
	target, err := NewTarget(cfg, zap.NewNop())
	require.NoError(t, err)
	return target
}

func TestRunAgainstLocalResponder(t *testing.T) {
	target := testTarget(t)

	cases := []Case{
		UDPCase("passing", func(conn *Connection) error {
			req := new(ntp.Packet)
			req.SetVersion(4)
			req.SetMode(ntp.ModeClient)
			req.TransmitTime = ntp.Time64FromTime(time.Now())
			resp, err := conn.Pester(req)
			if err != nil {
				return err
			}
			return ntp.ValidateServerResponse(resp, req)
		}),
		UDPCase("failing", func(conn *Connection) error {
			return Fail("deliberate failure")
		}),
		UDPCase("erroring", func(conn *Connection) error {
			return errors.New("deliberate error")
		}),
	}

	report := Run(zap.NewNop(), target, cases)
	require.Len(t, report.Results, 3)

	assert.Equal(t, OutcomePassed, report.Results[0].Outcome)
	assert.Equal(t, OutcomeFailed, report.Results[1].Outcome)
	assert.Equal(t, "deliberate failure", report.Results[1].Detail)
	assert.Equal(t, OutcomeErrored, report.Results[2].Outcome)
	assert.False(t, report.Clean())
}

func TestSilentServerTimesOut(t *testing.T) {
	target := testTarget(t)

	cases := []Case{
		UDPCase("server ignores this", func(conn *Connection) error {
			req := new(ntp.Packet)
			req.SetVersion(3) // responder only answers version 4
			req.SetMode(ntp.ModeClient)
			req.TransmitTime = ntp.Time64FromTime(time.Now())
			_, err := conn.Pester(req)
			if errors.Is(err, udp.ErrTimeout) {
				return nil
			}
			if err != nil {
				return err
			}
			return Fail("server replied where it should have stayed silent")
		}),
	}

	report := Run(zap.NewNop(), target, cases)
	require.Len(t, report.Results, 1)
	assert.Equal(t, OutcomePassed, report.Results[0].Outcome)
	assert.True(t, report.Clean())
}

func TestNTSCasesSkipWithoutNTS(t *testing.T) {
	target := testTarget(t)

	cases := []Case{
		NTSCase("nts case", func(conn *Connection, data ntske.Data) error {
			t.Error("NTS case body must not run without NTS")
			return nil
		}),
		KECase("ke case", func(ke *ntske.KeyExchange) error {
			t.Error("KE case body must not run without NTS")
			return nil
		}),
	}

	report := Run(zap.NewNop(), target, cases)
	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		assert.Equal(t, OutcomeSkipped, res.Outcome)
		assert.Equal(t, "NTS is not enabled for this target", res.Detail)
	}
	assert.True(t, report.Clean())
}

func TestLivenessCheckDetectsWedgedServer(t *testing.T) {
	cfg := Config{
		Host:    "127.0.0.1",
		Port:    startResponder(t, 1),
		Timeout: 250 * time.Millisecond,
	}
	target, err := NewTarget(cfg, zap.NewNop())
	require.NoError(t, err)

	cases := []Case{
		UDPCase("wedges the server", func(conn *Connection) error {
			req := new(ntp.Packet)
			req.SetVersion(4)
			req.SetMode(ntp.ModeClient)
			req.TransmitTime = ntp.Time64FromTime(time.Now())
			_, err := conn.Pester(req) // uses up the responder's only reply
			return err
		}),
	}

	report := Run(zap.NewNop(), target, cases)
	require.Len(t, report.Results, 1)
	assert.Equal(t, OutcomeFailed, report.Results[0].Outcome)
	assert.Equal(t, "After test: Server did no longer reply to normal poll",
		report.Results[0].Detail)
}

func TestRunContainsPanics(t *testing.T) {
	target := testTarget(t)

	cases := []Case{
		{Name: "panicking", Run: func(target *Target) error {
			panic("deliberate panic")
		}},
	}

	report := Run(zap.NewNop(), target, cases)
	require.Len(t, report.Results, 1)
	assert.Equal(t, OutcomeErrored, report.Results[0].Outcome)
	assert.Contains(t, report.Results[0].Detail, "deliberate panic")
}

func TestClassify(t *testing.T) {
	res := classify("a", nil)
	assert.Equal(t, OutcomePassed, res.Outcome)

	res = classify("b", Fail("reason"))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "reason", res.Detail)

	res = classify("c", FailResponse("reason", "deadbeef"))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "deadbeef", res.Response)

	res = classify("d", Skip("not enabled"))
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, "not enabled", res.Detail)

	res = classify("e", errors.New("boom"))
	assert.Equal(t, OutcomeErrored, res.Outcome)
	assert.Equal(t, "boom", res.Detail)
}

func TestReportWriteText(t *testing.T) {
	report := &Report{Results: []Result{
		{Name: "basic/test_responds_to_version_4", Outcome: OutcomePassed},
		{Name: "basic/test_ignores_version_5", Outcome: OutcomeFailed,
			Detail: "Server replied with invalid packet: unsupported packet version: 5",
			Response: "deadbeef"},
		{Name: "nts_ke/happy", Outcome: OutcomeSkipped, Detail: "NTS is not enabled for this target"},
		{Name: "nts/happy", Outcome: OutcomeErrored, Detail: "connection refused"},
	}}

	var buf bytes.Buffer
	require.NoError(t, report.WriteText(&buf))

	want := "✅ basic/test_responds_to_version_4\n" +
		"❌ basic/test_ignores_version_5\n" +
		" ↳ Server replied with invalid packet: unsupported packet version: 5\n" +
		" ↳ deadbeef\n" +
		"⏩ nts_ke/happy\n" +
		" ↳ NTS is not enabled for this target\n" +
		"❓ nts/happy\n" +
		" ↳ connection refused\n" +
		"\n✅ Passed:  1\n❌ Failed:  1\n❓ Errored: 1\n⏩ Skipped: 1\n"
	assert.Equal(t, want, buf.String())
	assert.False(t, report.Clean())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pester.toml")
	require.NoError(t, os.WriteFile(path, []byte(
		"host = \"time.example.com\"\nnts = true\ntimeout = \"250ms\"\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "time.example.com", cfg.Host)
	assert.Equal(t, ntp.ServerPort, cfg.Port)
	assert.Equal(t, 4460, cfg.KEPort)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.True(t, cfg.NTS)
}

func TestLoadConfigRejectsMissingHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pester.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = 1123\n"), 0o644))

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, errNoHost)
}
