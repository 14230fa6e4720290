//go:build !unix

package log

import (
	"log/slog"
	"os"
	"runtime"
)

func GetOSInfo() []any {
	attrs := []any{
		slog.Group("go",
			slog.String("os", runtime.GOOS),
			slog.String("arch", runtime.GOARCH),
			slog.String("version", runtime.Version()),
		),
	}
	if hostname, err := os.Hostname(); err == nil {
		attrs = append(attrs, slog.String("hostname", hostname))
	}
	if v, ok := os.LookupEnv("OS"); ok {
		attrs = append(attrs, slog.String("os_env", v))
	}
	return attrs
}
