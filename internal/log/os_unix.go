//go:build unix

package log

import (
	"log/slog"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// GetOSInfo describes the host for the start-up log header.
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

	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return append(attrs, slog.String("uname", err.Error()))
	}
	return append(attrs, slog.Group("kernel",
		slog.String("sysname", unix.ByteSliceToString(uname.Sysname[:])),
		slog.String("release", unix.ByteSliceToString(uname.Release[:])),
		slog.String("version", unix.ByteSliceToString(uname.Version[:])),
		slog.String("machine", unix.ByteSliceToString(uname.Machine[:])),
	))
}
