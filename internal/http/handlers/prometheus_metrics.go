package handlers

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"
)

// PrometheusHandler serves g in the text exposition format. With ?site= only
// series for that site are kept; families without a site label pass through.
func PrometheusHandler(g prometheus.Gatherer) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		metricFamilies, err := g.Gather()
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to gather metrics")
			return
		}

		if site := string(ctx.QueryArgs().Peek("site")); site != "" {
			metricFamilies = filterBySite(metricFamilies, site)
		}

		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
		for _, mf := range metricFamilies {
			if err := encoder.Encode(mf); err != nil {
				errResponse(ctx, fasthttp.StatusInternalServerError, "failed to encode metrics")
				return
			}
		}

		ctx.SetContentType(string(expfmt.FmtText))
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(buf.Bytes())
	}
}

func hasLabel(m *dto.Metric, name string) (string, bool) {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue(), true
		}
	}
	return "", false
}

func filterBySite(families []*dto.MetricFamily, site string) []*dto.MetricFamily {
	filtered := make([]*dto.MetricFamily, 0, len(families))
	for _, mf := range families {
		labelled := false
		var kept []*dto.Metric
		for _, m := range mf.GetMetric() {
			v, ok := hasLabel(m, "site")
			if !ok {
				kept = append(kept, m)
				continue
			}
			labelled = true
			if v == site {
				kept = append(kept, m)
			}
		}

		if !labelled {
			filtered = append(filtered, mf)
			continue
		}
		if len(kept) == 0 {
			continue
		}
		filtered = append(filtered, &dto.MetricFamily{
			Name:   mf.Name,
			Help:   mf.Help,
			Type:   mf.Type,
			Metric: kept,
		})
	}
	return filtered
}
