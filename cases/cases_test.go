package cases_test

import (
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"example.com/ntp-pester/cases"
	"example.com/ntp-pester/core/pester"
	"example.com/ntp-pester/net/ntp"
	"example.com/ntp-pester/net/udp"
)

func TestAllCaseNamesUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, c := range cases.All() {
		if c.Name == "" {
			t.Fatal("case with empty name")
		}
		if c.Run == nil {
			t.Fatalf("case %s has no body", c.Name)
		}
		if seen[c.Name] {
			t.Fatalf("duplicate case name: %s", c.Name)
		}
		seen[c.Name] = true
	}
	if len(seen) != 11 {
		t.Fatalf("expected 11 registered cases, got %d", len(seen))
	}
}

// startConformingServer answers version 4 client polls the way a
// well-behaved server would: origin echo, transmit after receive, unique
// identifier fields echoed, everything else ignored.
func startConformingServer(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	go func() {
		buf := make([]byte, udp.MaxPacketLen)
		for {
			n, addr, err := pc.ReadFromUDP(buf)
			if err != nil {
				return
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
			now := time.Now()
			resp.ReceiveTime = ntp.Time64FromTime(now)
			resp.TransmitTime = ntp.Time64FromTime(now.Add(time.Microsecond))
			for _, ef := range req.Extensions {
				if ef.Type == ntp.ExtUniqueIdentifier {
					resp.Extensions = append(resp.Extensions, ef)
				}
			}

			var b []byte
			ntp.EncodePacket(&b, &resp)
			_, _ = pc.WriteToUDP(b, addr)
		}
	}()

	return pc.LocalAddr().(*net.UDPAddr).Port
}

func TestCatalogAgainstConformingServer(t *testing.T) {
	cfg := pester.Config{
		Host:    "127.0.0.1",
		Port:    startConformingServer(t),
		Timeout: 250 * time.Millisecond,
	}
	target, err := pester.NewTarget(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	report := pester.Run(zap.NewNop(), target, cases.All())
	if len(report.Results) != 11 {
		t.Fatalf("expected 11 results, got %d", len(report.Results))
	}
	for _, res := range report.Results {
		switch res.Outcome {
		case pester.OutcomePassed, pester.OutcomeSkipped:
		default:
			t.Errorf("case %s ended %v: %s", res.Name, res.Outcome, res.Detail)
		}
	}
	// Without NTS the four plain UDP cases run and the rest are skipped.
	if n := report.Count(pester.OutcomePassed); n != 4 {
		t.Errorf("expected 4 passed cases, got %d", n)
	}
	if n := report.Count(pester.OutcomeSkipped); n != 7 {
		t.Errorf("expected 7 skipped cases, got %d", n)
	}
	if !report.Clean() {
		t.Error("run against a conforming server must be clean")
	}
}

func TestCatalogAgainstUnreachableTarget(t *testing.T) {
	// Grab a loopback port and close it again so nothing listens there.
	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	port := pc.LocalAddr().(*net.UDPAddr).Port
	_ = pc.Close()

	cfg := pester.Config{
		Host:    "127.0.0.1",
		Port:    port,
		Timeout: 250 * time.Millisecond,
	}
	target, err := pester.NewTarget(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	var subset []pester.Case
	for _, c := range cases.All() {
		if c.Name == "basic/test_responds_to_version_4" {
			subset = append(subset, c)
		}
	}
	if len(subset) != 1 {
		t.Fatal("expected to find the version 4 poll case")
	}

	report := pester.Run(zap.NewNop(), target, subset)
	if len(report.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(report.Results))
	}
	res := report.Results[0]
	// On loopback the closed port is reported as refused rather than as a
	// silent timeout, which the case cannot attribute to the server.
	if res.Outcome != pester.OutcomeErrored {
		t.Fatalf("expected errored outcome, got %v (%s)", res.Outcome, res.Detail)
	}
	if report.Clean() {
		t.Error("run against an unreachable target must not be clean")
	}
}
