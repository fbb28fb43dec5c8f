package services

import (
	"fmt"
	"io"

	"github.com/optionslog/backend/src/models"
	"github.com/optionslog/backend/src/utils"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

type pngChartRenderer struct {
	width, height int
}

func NewChartRenderer() ChartRenderer {
	return &pngChartRenderer{width: 900, height: 400}
}

// RenderAccountValue draws total value (solid) and total investment (dashed) as a PNG.
func (r *pngChartRenderer) RenderAccountValue(w io.Writer, data *models.AccountValueChart) error {
	if data == nil || len(data.Points) == 0 {
		return fmt.Errorf("no data points to render")
	}
	points := data.Points
	if len(points) == 1 {
		// A line needs two ends; a one-day series is drawn flat from the day before.
		day, err := utils.ParseDate(points[0].Date)
		if err != nil {
			return err
		}
		previous := points[0]
		previous.Date = utils.FormatDate(day.AddDate(0, 0, -1))
		points = []models.AccountValuePoint{previous, points[0]}
	}

	valueSeries := chart.TimeSeries{
		Name: "Total Value",
		Style: chart.Style{
			StrokeColor: drawing.ColorFromHex("2563eb"),
			StrokeWidth: 2.5,
		},
	}
	investmentSeries := chart.TimeSeries{
		Name: "Total Investment",
		Style: chart.Style{
			StrokeColor:     drawing.ColorFromHex("9ca3af"),
			StrokeWidth:     1.5,
			StrokeDashArray: []float64{5.0, 3.0},
		},
	}
	for _, p := range points {
		day, err := utils.ParseDate(p.Date)
		if err != nil {
			return err
		}
		valueSeries.XValues = append(valueSeries.XValues, day)
		valueSeries.YValues = append(valueSeries.YValues, p.TotalValue.InexactFloat64())
		investmentSeries.XValues = append(investmentSeries.XValues, day)
		investmentSeries.YValues = append(investmentSeries.YValues, p.TotalInvestment.InexactFloat64())
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("Account Value (%s)", data.Range),
		Width:  r.width,
		Height: r.height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			ValueFormatter: func(v interface{}) string {
				if t, ok := v.(float64); ok {
					return chart.TimeFromFloat64(t).Format("Jan 2")
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("$%.0f", f)
				}
				return ""
			},
		},
		Series: []chart.Series{valueSeries, investmentSeries},
	}
	// go-chart refuses a zero-height value range, which a flat account produces.
	if lo, hi := bounds(valueSeries.YValues, investmentSeries.YValues); lo == hi {
		graph.YAxis.Range = &chart.ContinuousRange{Min: lo - 1, Max: hi + 1}
	}
	graph.Elements = []chart.Renderable{chart.LegendLeft(&graph)}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("chart render failed: %w", err)
	}
	return nil
}

func bounds(series ...[]float64) (float64, float64) {
	var lo, hi float64
	first := true
	for _, values := range series {
		for _, v := range values {
			if first || v < lo {
				lo = v
			}
			if first || v > hi {
				hi = v
			}
			first = false
		}
	}
	return lo, hi
}
