package fetch

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"log/slog"

	"github.com/go-resty/resty/v2"
)

// debugDirEnv, when set, dumps every HTTP exchange to numbered files
// in the given directory. Invaluable when a store changes its markup
// and extraction starts missing prices.
const debugDirEnv = "PRICEWATCH_HTTP_DEBUG_DIR"

type debugDump struct {
	directory string
	counter   atomic.Uint64
}

func newDebugDumpFromEnv() *debugDump {
	dir := os.Getenv(debugDirEnv)
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0777); err != nil {
		slog.Warn("failed to create http debug directory", "dir", dir, "err", err)
		return nil
	}
	return &debugDump{directory: dir}
}

// instrument attaches dump hooks to a client. A nil receiver is a
// no-op.
func (d *debugDump) instrument(source string, client *resty.Client) {
	if d == nil {
		return
	}
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		id := d.counter.Add(1)
		name := fmt.Sprintf("%s-%d.txt", source, id)
		path := filepath.Join(d.directory, name)
		if err := os.WriteFile(path, []byte(formatExchange(res)), 0600); err != nil {
			slog.Warn("failed to write http debug file", "path", path, "err", err)
		}
		return nil
	})
}

func formatHeaders(headers http.Header) string {
	var out strings.Builder
	for k, vals := range headers {
		for _, v := range vals {
			out.WriteString(k)
			out.WriteString(": ")
			out.WriteString(v)
			out.WriteString("\n")
		}
	}
	return strings.TrimSuffix(out.String(), "\n")
}

func formatExchange(res *resty.Response) string {
	var out strings.Builder

	out.WriteString("---- REQUEST ----\n\n")
	out.WriteString(res.Request.Method)
	out.WriteString(" ")
	out.WriteString(res.Request.URL)
	out.WriteString("\n\n")
	if res.Request.RawRequest != nil {
		out.WriteString(formatHeaders(res.Request.RawRequest.Header))
	}

	out.WriteString("\n\n---- RESPONSE ----\n\n")
	out.WriteString(strconv.Itoa(res.StatusCode()))
	out.WriteString(" ")
	out.WriteString(res.RawResponse.Request.URL.String())
	out.WriteString("\n\n")
	out.WriteString(formatHeaders(res.Header()))
	out.WriteString("\n\n")
	out.WriteString(res.String())

	return out.String()
}
