package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// log 进程内唯一实例；Init 只重新配置它，已持有的 Entry 不会失效
	log = logrus.New()
	// baseWriters 为 Init 配置的常驻输出
	baseWriters []io.Writer
	// runWriters 为运行中附加的单次运行日志文件，Init 重新配置时保留
	runWriters []io.Writer
	rotating   *lumberjack.Logger
	outputMu   sync.Mutex
)

// Config 日志配置
type Config struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	Output     string `json:"output"`
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"`
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"`
	Compress   bool   `json:"compress"`
}

// Init 初始化日志，可重复调用（配置热加载）
func Init(config Config) error {
	// 设置日志级别
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	// 设置日志格式
	var formatter logrus.Formatter
	if config.Format == "json" {
		formatter = &logrus.JSONFormatter{
			TimestampFormat:   "2006-01-02 15:04:05",
			DisableHTMLEscape: true, // 保留原始报文中的 <> 等字符
		}
	} else {
		formatter = &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		}
	}

	var writers []io.Writer
	var rotator *lumberjack.Logger

	if config.Output == "" || config.Output == "console" || config.Output == "both" {
		writers = append(writers, os.Stdout)
	}

	if config.Output == "file" || config.Output == "both" {
		// 确保日志目录存在
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
			return err
		}

		rotator = &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		writers = append(writers, rotator)
	}

	outputMu.Lock()
	defer outputMu.Unlock()
	log.SetLevel(level)
	log.SetFormatter(formatter)
	baseWriters = writers
	applyOutputLocked()
	if rotating != nil {
		_ = rotating.Close()
	}
	rotating = rotator

	return nil
}

// applyOutputLocked 把常驻输出与运行日志文件合并设置到 log，调用方需持有 outputMu
func applyOutputLocked() {
	writers := make([]io.Writer, 0, len(baseWriters)+len(runWriters))
	writers = append(writers, baseWriters...)
	writers = append(writers, runWriters...)
	if len(writers) == 0 {
		log.SetOutput(os.Stdout)
		return
	}
	log.SetOutput(io.MultiWriter(writers...))
}

// StartRunFile 为单次运行附加独立日志文件，返回的函数用于卸载并关闭该文件
// 文件名格式：<dir>/<name>_<yyyymmdd_hhmmss>_<runID>.log
func StartRunFile(dir, name, runID string) (string, func(), error) {
	if dir == "" {
		return "", func() {}, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create run log directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s_%s.log", name, time.Now().Format("20060102_150405"), runID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open run log file: %w", err)
	}

	outputMu.Lock()
	runWriters = append(runWriters, f)
	applyOutputLocked()
	outputMu.Unlock()

	var once sync.Once
	detach := func() {
		once.Do(func() {
			outputMu.Lock()
			kept := runWriters[:0]
			for _, w := range runWriters {
				if w != io.Writer(f) {
					kept = append(kept, w)
				}
			}
			runWriters = kept
			applyOutputLocked()
			outputMu.Unlock()
			_ = f.Close()
		})
	}
	return path, detach, nil
}

// GetLogger 获取日志实例
func GetLogger() *logrus.Logger {
	return log
}

// Debug 调试日志
func Debug(args ...interface{}) {
	GetLogger().Debug(args...)
}

// Debugf 格式化调试日志
func Debugf(format string, args ...interface{}) {
	GetLogger().Debugf(format, args...)
}

// Info 信息日志
func Info(args ...interface{}) {
	GetLogger().Info(args...)
}

// Infof 格式化信息日志
func Infof(format string, args ...interface{}) {
	GetLogger().Infof(format, args...)
}

// Warn 警告日志
func Warn(args ...interface{}) {
	GetLogger().Warn(args...)
}

// Warnf 格式化警告日志
func Warnf(format string, args ...interface{}) {
	GetLogger().Warnf(format, args...)
}

// Error 错误日志
func Error(args ...interface{}) {
	GetLogger().Error(args...)
}

// Errorf 格式化错误日志
func Errorf(format string, args ...interface{}) {
	GetLogger().Errorf(format, args...)
}

// Fatal 致命错误日志
func Fatal(args ...interface{}) {
	GetLogger().Fatal(args...)
}

// Fatalf 格式化致命错误日志
func Fatalf(format string, args ...interface{}) {
	GetLogger().Fatalf(format, args...)
}

// WithField 添加字段
func WithField(key string, value interface{}) *logrus.Entry {
	return GetLogger().WithField(key, value)
}

// WithFields 添加多个字段
func WithFields(fields logrus.Fields) *logrus.Entry {
	return GetLogger().WithFields(fields)
}
