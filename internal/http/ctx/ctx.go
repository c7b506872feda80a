package ctx

import (
	"github.com/valyala/fasthttp"

	dbpkg "webmetrics/internal/db"
)

const UserKey = "user"

func SetUser(ctx *fasthttp.RequestCtx, user *dbpkg.User) {
	ctx.SetUserValue(UserKey, user)
}

func UserFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.User, bool) {
	u, ok := ctx.UserValue(UserKey).(*dbpkg.User)
	return u, ok && u != nil
}
