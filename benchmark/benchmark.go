// Package benchmark measures the response latency of the target server with
// a sequence of plain version 4 polls.
package benchmark

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"go.uber.org/zap"

	"example.com/ntp-pester/core/pester"
	"example.com/ntp-pester/net/ntp"
	"example.com/ntp-pester/net/udp"
)

// Run sends count sequential polls and prints a latency percentile table.
// Polls that time out or draw an invalid reply are counted and excluded from
// the histogram.
func Run(log *zap.Logger, t *pester.Target, count int, w io.Writer) error {
	// Round trips are recorded in microseconds; 50 ms of latency on a
	// server worth benchmarking is already pathological.
	hist := hdrhistogram.New(1, 50_000, 5)
	timeouts := 0
	invalid := 0

	for i := 0; i < count; i++ {
		conn, err := t.UDP()
		if err != nil {
			return err
		}

		req := new(ntp.Packet)
		req.SetVersion(4)
		req.SetMode(ntp.ModeClient)
		req.TransmitTime = ntp.Time64FromTime(time.Now())

		start := time.Now()
		resp, err := conn.Pester(req)
		rtt := time.Since(start)
		_ = conn.Close()

		switch {
		case errors.Is(err, udp.ErrTimeout):
			timeouts++
			continue
		case err != nil:
			var failErr *pester.FailError
			if errors.As(err, &failErr) {
				invalid++
				continue
			}
			return err
		}
		err = ntp.ValidateServerResponse(resp, req)
		if err != nil {
			log.Debug("invalid benchmark reply", zap.Error(err))
			invalid++
			continue
		}

		err = hist.RecordValue(rtt.Microseconds())
		if err != nil {
			log.Debug("round trip outside histogram range",
				zap.Duration("rtt", rtt))
		}
	}

	_, err := fmt.Fprintf(w, "%d polls, %d answered, %d timed out, %d invalid\n\n",
		count, int(hist.TotalCount()), timeouts, invalid)
	if err != nil {
		return err
	}
	if hist.TotalCount() == 0 {
		return nil
	}
	_, err = fmt.Fprintf(w, "round trip time (µs):\n")
	if err != nil {
		return err
	}
	_, err = hist.PercentilesPrint(w, 1, 1.0)
	return err
}
