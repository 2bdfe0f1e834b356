// Package report 用 go-echarts 渲染回测结果的自包含 HTML 报告。
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// Input 渲染所需的全部数据，纯值类型，不依赖上游包。
type Input struct {
	Title    string
	Times    []int64 // Unix ms，与 Equity/Drawdown 等长
	Equity   []float64
	Drawdown []float64 // 0~1
	Summary  [][2]string
}

// Render 输出资金曲线 + 回撤曲线 + 汇总表的单页 HTML。
func Render(w io.Writer, in Input) error {
	if len(in.Times) != len(in.Equity) || len(in.Times) != len(in.Drawdown) {
		return fmt.Errorf("序列长度不一致: times=%d equity=%d drawdown=%d",
			len(in.Times), len(in.Equity), len(in.Drawdown))
	}
	page := components.NewPage()
	page.SetPageTitle(in.Title)
	page.SetLayout(components.PageCenterLayout)

	labels := make([]string, len(in.Times))
	for i, ts := range in.Times {
		labels[i] = time.UnixMilli(ts).UTC().Format("2006-01-02 15:04")
	}

	page.AddCharts(
		equityChart(in.Title, labels, in.Equity),
		drawdownChart(labels, in.Drawdown),
	)
	if err := page.Render(w); err != nil {
		return err
	}
	return renderSummary(w, in.Summary)
}

func equityChart(title string, labels []string, equity []float64) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: "资金曲线"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithInitializationOpts(opts.Initialization{Width: "1100px", Height: "420px"}),
	)
	points := make([]opts.LineData, len(equity))
	for i, v := range equity {
		points[i] = opts.LineData{Value: v}
	}
	line.SetXAxis(labels).AddSeries("equity", points,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(false), ShowSymbol: opts.Bool(false)}))
	return line
}

func drawdownChart(labels []string, drawdown []float64) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "回撤", Subtitle: "自峰值的权益回落比例"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithInitializationOpts(opts.Initialization{Width: "1100px", Height: "260px"}),
	)
	points := make([]opts.LineData, len(drawdown))
	for i, v := range drawdown {
		points[i] = opts.LineData{Value: -v * 100}
	}
	line.SetXAxis(labels).AddSeries("drawdown %", points,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.3)}))
	return line
}

func renderSummary(w io.Writer, rows [][2]string) error {
	if len(rows) == 0 {
		return nil
	}
	if _, err := fmt.Fprint(w, `<div style="width:1100px;margin:16px auto;font-family:monospace"><table border="1" cellpadding="6" cellspacing="0">`); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "<tr><td>%s</td><td>%s</td></tr>", row[0], row[1]); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "</table></div>")
	return err
}
