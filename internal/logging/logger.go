package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tilehub/tilehub/internal/config"
)

// Logger 持有 logrus 实例及其底层输出，Close 在进程退出时关闭轮转文件。
type Logger struct {
	*logrus.Logger
	closer io.Closer
}

// Close 关闭文件输出；输出为 stdout 时为 no-op。
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// InitLogger 根据全局配置创建 JSON 结构化日志。文件输出不可用时降级到 stdout，
// 并记录一条 logger_fallback 警告，而不是让启动失败。
func InitLogger(cfg config.GlobalConfig) (*Logger, error) {
	levelName := cfg.LogLevel
	if levelName == "" {
		levelName = "info"
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	rotator, outErr := buildRotator(cfg)

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	result := &Logger{Logger: logger}
	if rotator != nil {
		logger.SetOutput(rotator)
		result.closer = rotator
	} else {
		logger.SetOutput(os.Stdout)
	}

	// 第三方库经由 logrus 标准实例输出时保持同样的格式与目标。
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())

	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(outErr.Error())
	}

	return result, nil
}

// Discard 返回丢弃全部输出的 logger，供测试与 --check-config 之外的静默场景使用。
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// buildRotator 在配置了 LogFilePath 时创建按大小轮转的文件输出；目录不可写时返回错误。
func buildRotator(cfg config.GlobalConfig) (*lumberjack.Logger, error) {
	if cfg.LogFilePath == "" {
		return nil, nil
	}

	dir := filepath.Dir(cfg.LogFilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	probe, err := os.OpenFile(cfg.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	_ = probe.Close()

	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}
