package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"gorm.io/datatypes"

	dbpkg "webmetrics/internal/db"
	"webmetrics/internal/discovery"
	httpctx "webmetrics/internal/http/ctx"
	"webmetrics/internal/logger"
)

func newCtx(method, uri, body string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	return ctx
}

func asAdmin(ctx *fasthttp.RequestCtx) *fasthttp.RequestCtx {
	httpctx.SetUser(ctx, &dbpkg.User{Username: "admin", IsAdmin: true})
	return ctx
}

type fakeImporter struct {
	site, path string
	result     discovery.Dispatch
	err        error
}

func (f *fakeImporter) Import(ctx context.Context, site, path string) (discovery.Dispatch, error) {
	f.site, f.path = site, path
	return f.result, f.err
}

func TestImportHandlerQueryArgs(t *testing.T) {
	imp := &fakeImporter{result: discovery.Dispatch{Queued: 3, Skipped: 1}}
	ctx := asAdmin(newCtx("POST", "/v1/imports?siteName=jboss.org&importPath=/opt/data/jboss.org", ""))

	ImportHandler(imp, time.Second, logger.Nop())(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusAccepted {
		t.Fatalf("status: got %d, body %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	if imp.site != "jboss.org" || imp.path != "/opt/data/jboss.org" {
		t.Errorf("importer got %q, %q", imp.site, imp.path)
	}
	var body map[string]int
	if err := json.Unmarshal(ctx.Response.Body(), &body); err != nil {
		t.Fatal(err)
	}
	if body["queued"] != 3 || body["skipped"] != 1 {
		t.Errorf("body: %v", body)
	}
}

func TestImportHandlerJSONBody(t *testing.T) {
	imp := &fakeImporter{}
	ctx := asAdmin(newCtx("POST", "/v1/imports", `{"siteName":"hibernate.org","importPath":"/tmp/x.csv"}`))

	ImportHandler(imp, time.Second, logger.Nop())(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusAccepted {
		t.Fatalf("status: got %d", ctx.Response.StatusCode())
	}
	if imp.site != "hibernate.org" || imp.path != "/tmp/x.csv" {
		t.Errorf("importer got %q, %q", imp.site, imp.path)
	}
}

func TestImportHandlerRejects(t *testing.T) {
	cases := []struct {
		name string
		ctx  *fasthttp.RequestCtx
		err  error
		want int
	}{
		{"missing path", asAdmin(newCtx("POST", "/v1/imports?siteName=jboss.org", "")), nil, fasthttp.StatusBadRequest},
		{"bad json", asAdmin(newCtx("POST", "/v1/imports", `{"siteName":`)), nil, fasthttp.StatusBadRequest},
		{"bad import", asAdmin(newCtx("POST", "/v1/imports?siteName=a&importPath=/nope", "")), discovery.ErrBadImport, fasthttp.StatusBadRequest},
		{"queue down", asAdmin(newCtx("POST", "/v1/imports?siteName=a&importPath=/nope", "")), errors.New("closed"), fasthttp.StatusInternalServerError},
		{"no user", newCtx("POST", "/v1/imports?siteName=a&importPath=/x", ""), nil, fasthttp.StatusUnauthorized},
	}
	for _, c := range cases {
		ImportHandler(&fakeImporter{err: c.err}, time.Second, logger.Nop())(c.ctx)
		if got := c.ctx.Response.StatusCode(); got != c.want {
			t.Errorf("%s: status %d, want %d", c.name, got, c.want)
		}
	}
}

type blockingImporter struct{}

func (blockingImporter) Import(ctx context.Context, site, path string) (discovery.Dispatch, error) {
	<-ctx.Done()
	return discovery.Dispatch{}, ctx.Err()
}

func TestImportHandlerQueueFull(t *testing.T) {
	ctx := asAdmin(newCtx("POST", "/v1/imports?siteName=jboss.org&importPath=/opt/data/jboss.org", ""))

	start := time.Now()
	ImportHandler(blockingImporter{}, 20*time.Millisecond, logger.Nop())(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", ctx.Response.StatusCode())
	}
	if time.Since(start) > time.Second {
		t.Errorf("handler took %s", time.Since(start))
	}
	if len(ctx.Response.Header.Peek("Retry-After")) == 0 {
		t.Error("missing Retry-After")
	}
}

type fakeReader struct {
	filter  dbpkg.MetricFilter
	site    string
	metrics []dbpkg.PageMetric
	files   []dbpkg.ProcessedFile
	err     error
}

func (f *fakeReader) ListMetrics(ctx context.Context, filter dbpkg.MetricFilter) ([]dbpkg.PageMetric, error) {
	f.filter = filter
	return f.metrics, f.err
}

func (f *fakeReader) ListProcessed(ctx context.Context, site string, limit int) ([]dbpkg.ProcessedFile, error) {
	f.site = site
	return f.files, f.err
}

func TestPageMetricsHandler(t *testing.T) {
	bounce := 0.25
	day := time.Date(2013, 11, 1, 0, 0, 0, 0, time.UTC)
	r := &fakeReader{metrics: []dbpkg.PageMetric{{
		ReportDate: day, Site: "jboss.org", Page: "/docs", PageViews: 10, BounceRate: &bounce, SourceFile: "/a.csv",
	}}}
	ctx := newCtx("GET", "/v1/pages?site=jboss.org&date=2013-11-01&limit=5", "")

	PageMetricsHandler(r, logger.Nop())(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status: %d", ctx.Response.StatusCode())
	}
	if r.filter.Site != "jboss.org" || r.filter.Limit != 5 || r.filter.ReportDate == nil || !r.filter.ReportDate.Equal(day) {
		t.Errorf("filter: %+v", r.filter)
	}
	var body struct {
		Pages []pageRow `json:"pages"`
		Count int       `json:"count"`
	}
	if err := json.Unmarshal(ctx.Response.Body(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 || body.Pages[0].Page != "/docs" || body.Pages[0].ReportDate != "2013-11-01" {
		t.Errorf("body: %+v", body)
	}
	if body.Pages[0].PercentExit != nil || body.Pages[0].BounceRate == nil || *body.Pages[0].BounceRate != 0.25 {
		t.Errorf("rates: %+v", body.Pages[0])
	}
}

func TestPageMetricsHandlerBadDate(t *testing.T) {
	ctx := newCtx("GET", "/v1/pages?date=11/01/2013", "")
	PageMetricsHandler(&fakeReader{}, logger.Nop())(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Errorf("status: %d", ctx.Response.StatusCode())
	}
}

func TestPageMetricsHandlerStoreError(t *testing.T) {
	ctx := newCtx("GET", "/v1/pages", "")
	PageMetricsHandler(&fakeReader{err: errors.New("down")}, logger.Nop())(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusInternalServerError {
		t.Errorf("status: %d", ctx.Response.StatusCode())
	}
}

func TestProcessedFilesHandler(t *testing.T) {
	end := time.Date(2013, 11, 30, 0, 0, 0, 0, time.UTC)
	r := &fakeReader{files: []dbpkg.ProcessedFile{{
		FilePath: "/a.csv", Site: "jboss.org", ReportDate: time.Date(2013, 11, 1, 0, 0, 0, 0, time.UTC),
		EndDate: &end, RowsRead: 4, RecordCount: 3, Truncated: true,
		Details: datatypes.JSONMap{"stopped_at_row": 5},
	}}}
	ctx := newCtx("GET", "/v1/files?site=jboss.org", "")

	ProcessedFilesHandler(r, logger.Nop())(ctx)

	if r.site != "jboss.org" {
		t.Errorf("site filter: %q", r.site)
	}
	body := string(ctx.Response.Body())
	for _, want := range []string{`"file_path":"/a.csv"`, `"end_date":"2013-11-30"`, `"truncated":true`, `"stopped_at_row":5`} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %s: %s", want, body)
		}
	}
}

func TestPrometheusHandlerFiltersBySite(t *testing.T) {
	reg := prometheus.NewRegistry()
	files := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "files_total", Help: "h"}, []string{"site"})
	other := prometheus.NewCounter(prometheus.CounterOpts{Name: "redeliveries_total", Help: "h"})
	reg.MustRegister(files, other)
	files.WithLabelValues("jboss.org").Add(2)
	files.WithLabelValues("hibernate.org").Add(5)
	other.Inc()

	ctx := newCtx("GET", "/metrics?site=jboss.org", "")
	PrometheusHandler(reg)(ctx)

	body := string(ctx.Response.Body())
	if !strings.Contains(body, `files_total{site="jboss.org"} 2`) {
		t.Errorf("jboss.org series missing:\n%s", body)
	}
	if strings.Contains(body, "hibernate.org") {
		t.Errorf("other site leaked:\n%s", body)
	}
	if !strings.Contains(body, "redeliveries_total 1") {
		t.Errorf("unlabelled family dropped:\n%s", body)
	}

	ctx = newCtx("GET", "/metrics", "")
	PrometheusHandler(reg)(ctx)
	if !strings.Contains(string(ctx.Response.Body()), "hibernate.org") {
		t.Error("unfiltered scrape must include every site")
	}
}

func TestHealthz(t *testing.T) {
	ctx := newCtx("GET", "/healthz", "")
	Healthz(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusOK || string(ctx.Response.Body()) != "ok" {
		t.Errorf("got %d %q", ctx.Response.StatusCode(), ctx.Response.Body())
	}
}
