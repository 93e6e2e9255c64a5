package pester

import (
	"fmt"
	"io"
)

// Report collects the results of one run in execution order.
type Report struct {
	Results []Result
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
}

// Count returns the number of cases that ended with the given outcome.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Clean reports whether the run had neither failures nor errors.
func (r *Report) Clean() bool {
	return r.Count(OutcomeFailed) == 0 && r.Count(OutcomeErrored) == 0
}

func symbol(o Outcome) string {
	switch o {
	case OutcomePassed:
		return "✅"
	case OutcomeFailed:
		return "❌"
	case OutcomeErrored:
		return "❓"
	case OutcomeSkipped:
		return "⏩"
	default:
		panic("unexpected outcome value")
	}
}

// WriteText renders the report: one line per case, detail lines for anything
// that did not pass cleanly, and a trailing summary.
func (r *Report) WriteText(w io.Writer) error {
	for _, res := range r.Results {
		_, err := fmt.Fprintf(w, "%s %s\n", symbol(res.Outcome), res.Name)
		if err != nil {
			return err
		}
		if res.Detail != "" {
			_, err = fmt.Fprintf(w, " ↳ %s\n", res.Detail)
			if err != nil {
				return err
			}
		}
		if res.Response != "" {
			_, err = fmt.Fprintf(w, " ↳ %s\n", res.Response)
			if err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(w, "\n✅ Passed:  %d\n❌ Failed:  %d\n❓ Errored: %d\n⏩ Skipped: %d\n",
		r.Count(OutcomePassed), r.Count(OutcomeFailed),
		r.Count(OutcomeErrored), r.Count(OutcomeSkipped))
	return err
}
