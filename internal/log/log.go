package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sunbk201/flowguard/internal/common"
	"github.com/sunbk201/flowguard/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logLevel = new(slog.LevelVar)

// SetLogConf installs the default logger. Records go to stdout and to a
// rotated file; an empty file disables the file sink.
func SetLogConf(level string, file string) {
	writers := []io.Writer{os.Stdout}
	if file != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    5, // megabytes
			MaxBackups: 5,
			MaxAge:     7, // days
			LocalTime:  true,
			Compress:   true,
		})
	}
	logLevel.Set(ParseLevel(level))
	slog.SetDefault(newLogger(io.MultiWriter(writers...), logLevel))
}

// SetLevel changes the level of the logger installed by SetLogConf.
func SetLevel(level string) {
	logLevel.Set(ParseLevel(level))
}

func NewLogger(w io.Writer, level string) *slog.Logger {
	return newLogger(w, ParseLevel(level))
}

func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	loc := LoadLocalLocation()
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				t := a.Value.Time().In(loc)
				return slog.String(slog.TimeKey, t.Format("2006-01-02 15:04:05"))
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func LogHeader(version string, cfg *config.Config) {
	slog.Info("FlowGuard started", "version", version, "", cfg)
	slog.Info("System info", GetOSInfo()...)
}

func LogDebugWithFlow(flow *common.Flow, msg string, args ...any) {
	slog.Debug(msg, append([]any{slog.Any("flow", flow)}, args...)...)
}

func LogInfoWithFlow(flow *common.Flow, msg string, args ...any) {
	slog.Info(msg, append([]any{slog.Any("flow", flow)}, args...)...)
}

func LogWarnWithFlow(flow *common.Flow, msg string, args ...any) {
	slog.Warn(msg, append([]any{slog.Any("flow", flow)}, args...)...)
}

func LogErrorWithFlow(flow *common.Flow, msg string, args ...any) {
	slog.Error(msg, append([]any{slog.Any("flow", flow)}, args...)...)
}

// LoadLocalLocation tries to detect and load the system local timezone from
// `/etc/localtime` or `/etc/TZ`. Compatible with OpenWrt and normal Linux.
func LoadLocalLocation() *time.Location {
	if _, err := os.Stat("/etc/localtime"); err == nil {
		if loc, _ := time.LoadLocation("Local"); loc != nil {
			return loc
		}
	}
	if data, err := os.ReadFile("/etc/TZ"); err == nil {
		tz := strings.TrimSpace(string(data))
		if strings.HasPrefix(tz, "CST-8") {
			return time.FixedZone("CST", 8*3600)
		}
		if strings.HasPrefix(tz, "UTC") {
			return time.UTC
		}
	}
	return time.UTC
}
