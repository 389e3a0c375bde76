package ranking

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
)

// WriteCSV writes one row per result. Parameter columns follow schema order,
// then one column per objective, then every metric. Undefined values are empty.
func WriteCSV(w io.Writer, results []*Result, schema []*backtest.Parameter, objectives []string) error {
	cw := csv.NewWriter(w)

	header := []string{"rank", "trial", "score", "feasible", "pareto_optimal", "violation"}
	for _, p := range schema {
		header = append(header, p.Name)
	}
	for _, o := range objectives {
		header = append(header, "objective_"+o)
	}
	header = append(header, backtest.MetricKeys...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, r := range results {
		row := []string{
			strconv.Itoa(r.Rank),
			strconv.Itoa(r.TrialNumber),
			formatFloat(r.Score),
			strconv.FormatBool(r.Feasible),
			strconv.FormatBool(r.ParetoOptimal),
			formatFloat(r.Violation),
		}
		for _, p := range schema {
			v, ok := r.Params[p.Name]
			if !ok {
				v = p.Default
			}
			row = append(row, fmt.Sprint(v))
		}
		for i := range objectives {
			if i < len(r.Values) {
				row = append(row, formatFloat(r.Values[i]))
			} else {
				row = append(row, "")
			}
		}
		for _, key := range backtest.MetricKeys {
			v, ok := r.Metrics[key]
			if !ok {
				v = math.NaN()
			}
			row = append(row, formatFloat(v))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row for trial %d: %w", r.TrialNumber, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
