package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/packcam/internal/httputil"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// showCaptureChart renders per-slot capture successes and failures plus the
// p95 latency as go-echarts bar charts.
func (s *Server) showCaptureChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	sum := s.capture.Stats().Summary()

	x := make([]string, 0, len(sum.Slots))
	ok := make([]opts.BarData, 0, len(sum.Slots))
	failed := make([]opts.BarData, 0, len(sum.Slots))
	p95 := make([]opts.BarData, 0, len(sum.Slots))
	for _, ss := range sum.Slots {
		x = append(x, "cam"+strconv.Itoa(ss.Slot))
		ok = append(ok, opts.BarData{Value: ss.Successes})
		failed = append(failed, opts.BarData{Value: ss.Failures})
		p95 = append(p95, opts.BarData{Value: ss.P95Ms})
	}

	counts := charts.NewBar()
	counts.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Captures per camera",
			Subtitle: fmt.Sprintf("sessions=%d duplicates=%d busy=%d retakes=%d %s", sum.Sessions, sum.Duplicates, sum.Busy, sum.Retakes, time.Now().Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	counts.SetXAxis(x).
		AddSeries("ok", ok, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"})).
		AddSeries("failed", failed, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))

	latency := charts.NewBar()
	latency.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Capture latency p95 (ms)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	latency.SetXAxis(x).AddSeries("p95_ms", p95)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(counts, latency)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
