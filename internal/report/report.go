// Package report renders area time series as an interactive HTML chart,
// a static PNG plot or CSV.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/waterextent/internal/units"
	"github.com/banshee-data/waterextent/internal/water/pipeline"
)

// DefaultAssetsHost serves the echarts JavaScript.
const DefaultAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

const dateLayout = "2006-01-02"

func unitLabel(unit string) string {
	switch unit {
	case units.Hectares:
		return "ha"
	case units.SquareKilometers:
		return "km²"
	case units.Acres:
		return "acres"
	default:
		return "m²"
	}
}

func title(ts *pipeline.TimeSeries) string {
	return fmt.Sprintf("Surface water: %s", ts.RegionID)
}

func subtitle(ts *pipeline.TimeSeries) string {
	return fmt.Sprintf("%s to %s by %s, run %s", ts.Start.Format(dateLayout), ts.End.Format(dateLayout), ts.Granularity, ts.RunID)
}

// HTML writes an echarts line chart of ts. Periods without an area are
// gaps in the line.
func HTML(w io.Writer, ts *pipeline.TimeSeries, unit, assetsHost string) error {
	if assetsHost == "" {
		assetsHost = DefaultAssetsHost
	}
	x := make([]string, len(ts.Records))
	area := make([]opts.LineData, len(ts.Records))
	count := make([]opts.LineData, len(ts.Records))
	for i, r := range ts.Records {
		x[i] = r.PeriodStart.Format(dateLayout)
		if v, ok := r.Area(); ok {
			area[i] = opts.LineData{Value: units.ConvertArea(v, unit), Name: string(r.Status)}
		} else {
			area[i] = opts.LineData{Value: "-", Name: string(r.Status)}
		}
		count[i] = opts.LineData{Value: r.ImageCount}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title(ts), Width: "100%", Height: "560px", AssetsHost: assetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title(ts), Subtitle: subtitle(ts)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Period", NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Water area (" + unitLabel(unit) + ")", NameLocation: "middle", NameGap: 60}),
	)
	line.SetXAxis(x).
		AddSeries("water area", area, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true), ConnectNulls: opts.Bool(false)})).
		AddSeries("images", count, charts.WithLineChartOpts(opts.LineChart{Step: "middle"}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// PNG writes a gonum plot of ts. Contiguous runs of periods with an area
// are drawn as separate line segments.
func PNG(w io.Writer, ts *pipeline.TimeSeries, unit string, width, height vg.Length) error {
	p := plot.New()
	p.Title.Text = title(ts)
	p.X.Label.Text = "Period start"
	p.Y.Label.Text = "Water area (" + unitLabel(unit) + ")"
	p.X.Tick.Marker = plot.TimeTicks{Format: dateLayout}
	p.Add(plotter.NewGrid())

	var segment plotter.XYs
	flush := func() error {
		if len(segment) == 0 {
			return nil
		}
		l, s, err := plotter.NewLinePoints(segment)
		if err != nil {
			return fmt.Errorf("line: %w", err)
		}
		l.Width = vg.Points(1.5)
		p.Add(l, s)
		segment = nil
		return nil
	}
	for _, r := range ts.Records {
		v, ok := r.Area()
		if !ok {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		segment = append(segment, plotter.XY{X: float64(r.PeriodStart.Unix()), Y: units.ConvertArea(v, unit)})
	}
	if err := flush(); err != nil {
		return err
	}
	if len(ts.Records) > 0 {
		p.X.Min = float64(ts.Records[0].PeriodStart.Unix())
		p.X.Max = float64(ts.Records[len(ts.Records)-1].PeriodStart.Unix())
	}
	p.Y.Min = 0

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// CSVHeader is the first row written by CSV.
var CSVHeader = []string{"region_id", "period_start", "period_end", "water_area", "unit", "image_count", "coverage", "status", "source_image_dates", "error"}

// CSV writes one row per record. A null area is an empty cell.
func CSV(w io.Writer, ts *pipeline.TimeSeries, unit string) error {
	if !units.IsValidArea(unit) {
		unit = units.SquareMeters
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range ts.Records {
		area := ""
		if v, ok := r.Area(); ok {
			area = strconv.FormatFloat(units.ConvertArea(v, unit), 'f', -1, 64)
		}
		dates := ""
		for i, d := range r.SourceImageDates {
			if i > 0 {
				dates += ";"
			}
			dates += d.UTC().Format(time.RFC3339)
		}
		row := []string{
			r.RegionID,
			r.PeriodStart.Format(dateLayout),
			r.PeriodEnd.Format(dateLayout),
			area,
			unit,
			strconv.Itoa(r.ImageCount),
			strconv.FormatFloat(r.Coverage, 'f', 4, 64),
			string(r.Status),
			dates,
			r.Error,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
