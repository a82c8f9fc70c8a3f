// Package report renders profit and regret curves of a run as an HTML page.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// Series is the data of one run.
type Series struct {
	Title string

	// Realized is the learning retailer's cumulative profit.
	Realized []float64

	// BestStatic is the cumulative profit of the best static pair.
	BestStatic   []float64
	BestPrice    float64
	BestQuantity float64
}

// Regret returns BestStatic - Realized round by round.
func (s Series) Regret() []float64 {
	out := make([]float64, len(s.Realized))
	for t := range out {
		out[t] = s.BestStatic[t] - s.Realized[t]
	}
	return out
}

func (s Series) validate() error {
	if len(s.Realized) == 0 {
		return errors.New("report: empty series")
	}
	if len(s.Realized) != len(s.BestStatic) {
		return fmt.Errorf("report: realized has %d rounds, best static has %d", len(s.Realized), len(s.BestStatic))
	}
	return nil
}

// Render writes the HTML page to w.
func Render(w io.Writer, s Series) error {
	if err := s.validate(); err != nil {
		return err
	}

	rounds := make([]int, len(s.Realized))
	for t := range rounds {
		rounds[t] = t + 1
	}

	profit := charts.NewLine()
	profit.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: s.Title,
			Theme:     "shine",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Cumulative profit",
			Subtitle: fmt.Sprintf("best static price=%.3f quantity=%.3f", s.BestPrice, s.BestQuantity),
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "round"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "profit"}),
	)
	profit.SetXAxis(rounds).
		AddSeries("realized", lineData(s.Realized)).
		AddSeries("best static", lineData(s.BestStatic))

	regret := charts.NewLine()
	regret.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Regret"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "round"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "regret"}),
	)
	regret.SetXAxis(rounds).AddSeries("regret", lineData(s.Regret()))

	page := components.NewPage()
	page.PageTitle = s.Title
	page.AddCharts(profit, regret)
	return page.Render(w)
}

// WriteFile renders the page into path, creating parent directories.
func WriteFile(path string, s Series) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Render(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func lineData(values []float64) []opts.LineData {
	items := make([]opts.LineData, 0, len(values))
	for _, v := range values {
		items = append(items, opts.LineData{Value: v})
	}
	return items
}
