package middleware

import (
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"webmetrics/internal/config"
	dbpkg "webmetrics/internal/db"
	httpctx "webmetrics/internal/http/ctx"
)

func testDB(t *testing.T) (*gorm.DB, *config.Config) {
	t.Helper()
	db, err := dbpkg.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cfg := &config.Config{AdminUser: "admin", AdminPassword: "s3cret"}
	if err := dbpkg.EnsureBootstrapAdmin(db, cfg); err != nil {
		t.Fatal(err)
	}
	hash, _ := bcrypt.GenerateFromPassword([]byte("viewer"), bcrypt.MinCost)
	if err := db.Create(&dbpkg.User{Username: "viewer", PasswordHash: string(hash)}).Error; err != nil {
		t.Fatal(err)
	}
	return db, cfg
}

func request(auth string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.SetRequestURI("/v1/imports")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	return ctx
}

func basic(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestAdminAuth(t *testing.T) {
	db, cfg := testDB(t)

	var seen *dbpkg.User
	h := AdminAuth(db, cfg)(func(ctx *fasthttp.RequestCtx) {
		seen, _ = httpctx.UserFromCtx(ctx)
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	cases := []struct {
		name string
		auth string
		want int
	}{
		{"no header", "", fasthttp.StatusUnauthorized},
		{"bearer", "Bearer abc", fasthttp.StatusUnauthorized},
		{"garbage", "Basic !!!", fasthttp.StatusUnauthorized},
		{"wrong password", basic("admin", "nope"), fasthttp.StatusUnauthorized},
		{"unknown user", basic("ghost", "s3cret"), fasthttp.StatusUnauthorized},
		{"not admin", basic("viewer", "viewer"), fasthttp.StatusForbidden},
		{"admin", basic("admin", "s3cret"), fasthttp.StatusOK},
	}
	for _, c := range cases {
		seen = nil
		ctx := request(c.auth)
		h(ctx)
		if got := ctx.Response.StatusCode(); got != c.want {
			t.Errorf("%s: status %d, want %d", c.name, got, c.want)
		}
		if c.want == fasthttp.StatusUnauthorized && len(ctx.Response.Header.Peek("WWW-Authenticate")) == 0 {
			t.Errorf("%s: missing WWW-Authenticate", c.name)
		}
		if c.want == fasthttp.StatusOK && (seen == nil || seen.Username != "admin") {
			t.Errorf("%s: user not set on context: %+v", c.name, seen)
		}
	}
}

func TestInternalReporting(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := InternalReporting(reg)(func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusAccepted)
	})

	h(request(""))
	h(request(""))

	var scrape fasthttp.Request
	scrape.SetRequestURI("/metrics")
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&scrape, nil, nil)
	h(ctx)

	n, err := testutil.GatherAndCount(reg, "webmetrics_http_requests_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("series: got %d, want 1 (scrapes are not counted)", n)
	}
}
