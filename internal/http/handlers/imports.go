package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/valyala/fasthttp"

	"webmetrics/internal/discovery"
	"webmetrics/internal/logger"
)

// Importer queues an on-demand scan of one file or directory.
type Importer interface {
	Import(ctx context.Context, site, path string) (discovery.Dispatch, error)
}

type importRequest struct {
	SiteName   string `json:"siteName"`
	ImportPath string `json:"importPath"`
}

// ImportHandler accepts siteName and importPath as query args or as a JSON
// body and queues the matching files. If the queue stays full for longer
// than timeout the request fails with 503.
func ImportHandler(imp Importer, timeout time.Duration, log *logger.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}

		req := importRequest{
			SiteName:   string(ctx.QueryArgs().Peek("siteName")),
			ImportPath: string(ctx.QueryArgs().Peek("importPath")),
		}
		if body := bytes.TrimSpace(ctx.PostBody()); len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
				return
			}
		}
		if req.SiteName == "" || req.ImportPath == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "siteName and importPath are required")
			return
		}

		ictx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		d, err := imp.Import(ictx, req.SiteName, req.ImportPath)
		if errors.Is(err, discovery.ErrBadImport) {
			errResponse(ctx, fasthttp.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("[http] import of %s (site=%s) timed out with %d queued: queue full", req.ImportPath, req.SiteName, d.Queued)
			ctx.Response.Header.Set("Retry-After", "30")
			errResponse(ctx, fasthttp.StatusServiceUnavailable, "queue full, try again later")
			return
		}
		if err != nil {
			log.Error("[http] import of %s (site=%s) failed: %v", req.ImportPath, req.SiteName, err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to queue import")
			return
		}

		log.Info("[http] %s requested import of %s (site=%s): %d queued, %d skipped",
			user.Username, req.ImportPath, req.SiteName, d.Queued, d.Skipped)
		ctx.SetStatusCode(fasthttp.StatusAccepted)
		jsonResponse(ctx, map[string]any{"queued": d.Queued, "skipped": d.Skipped})
	}
}
