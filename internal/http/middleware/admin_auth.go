package middleware

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"webmetrics/internal/config"
	dbpkg "webmetrics/internal/db"
	httpctx "webmetrics/internal/http/ctx"
)

const realm = `Basic realm="webmetrics"`

// AdminAuth returns middleware that checks HTTP Basic credentials against the
// users table and sets the user on the context. Only admins get through.
func AdminAuth(db *gorm.DB, cfg *config.Config) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			username, password, ok := basicAuth(ctx.Request.Header.Peek("Authorization"))
			if !ok {
				unauthorized(ctx, "missing credentials")
				return
			}

			user, err := dbpkg.Authenticate(db, username, password)
			if errors.Is(err, dbpkg.ErrInvalidCredentials) {
				unauthorized(ctx, "invalid credentials")
				return
			}
			if err != nil {
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBodyString("database error")
				return
			}

			if user.Username == cfg.AdminUser {
				user.IsAdmin = true
			}
			if !user.IsAdmin {
				ctx.SetStatusCode(fasthttp.StatusForbidden)
				ctx.SetBodyString("admin only")
				return
			}

			httpctx.SetUser(ctx, user)
			next(ctx)
		}
	}
}

func unauthorized(ctx *fasthttp.RequestCtx, msg string) {
	ctx.Response.Header.Set("WWW-Authenticate", realm)
	ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	ctx.SetBodyString(msg)
}

func basicAuth(header []byte) (username, password string, ok bool) {
	const prefix = "Basic "
	if !bytes.HasPrefix(header, []byte(prefix)) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(header[len(prefix):])))
	if err != nil {
		return "", "", false
	}
	username, password, ok = strings.Cut(string(raw), ":")
	if !ok || username == "" {
		return "", "", false
	}
	return username, password, true
}
