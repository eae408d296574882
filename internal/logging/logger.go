// Package logging 构造全局统一格式的 hclog 日志器。
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	envLevel = "FWINSTALL_LOG_LEVEL"
	envJSON  = "FWINSTALL_JSON_LOG"

	defaultLevel = "info"
)

// New 创建 hclog 日志器，level 为空时读取环境变量。
func New(name, level string, output io.Writer) hclog.Logger {
	if output == nil {
		output = os.Stderr
	}
	if strings.TrimSpace(level) == "" {
		level = Level()
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(level),
		JSONFormat: os.Getenv(envJSON) == "1",
		Output:     output,
		TimeFormat: "2006-01-02T15:04:05Z",
		TimeFn: func() time.Time {
			return time.Now().UTC()
		},
	})
}

// Level 返回环境变量中的日志级别，未设置时为 info。
func Level() string {
	if level := strings.TrimSpace(os.Getenv(envLevel)); level != "" {
		return level
	}
	return defaultLevel
}

// OrNull 在 logger 为 nil 时返回丢弃所有输出的日志器。
func OrNull(logger hclog.Logger) hclog.Logger {
	if logger == nil {
		return hclog.NewNullLogger()
	}
	return logger
}
