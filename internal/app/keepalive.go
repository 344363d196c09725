package app

import (
	"context"
	"time"

	"github.com/nimasrn/number-market/pkg/logger"
	"github.com/valyala/fasthttp"
)

// KeepAlive pings url every interval until ctx ends. Hosted platforms that
// idle a process without inbound traffic are kept awake this way.
func KeepAlive(ctx context.Context, client *fasthttp.Client, url string, interval time.Duration) {
	if client == nil {
		client = &fasthttp.Client{Name: "keep-alive"}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, _, err := client.GetTimeout(nil, url, 10*time.Second)
			if err != nil {
				logger.Warn("keep-alive ping failed", "url", url, "error", err)
				continue
			}
			logger.Debug("keep-alive ping", "url", url, "status", status)
		}
	}
}
