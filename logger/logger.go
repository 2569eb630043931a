package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

var (
	// Log 全局日志实例
	Log *logrus.Logger
)

func init() {
	// 自动初始化默认日志器，保证 Init 之前也能正常打日志
	Log = logrus.New()
	Log.SetLevel(logrus.InfoLevel)
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
	})
	Log.SetOutput(os.Stdout)
}

// ============================================================================
// 初始化函数
// ============================================================================

// Init 初始化全局日志器
// cfg 为 nil 时使用默认配置（控制台输出、info 级别）
func Init(cfg *Config) error {
	Log = logrus.New()

	// 未提供配置时使用默认值
	if cfg == nil {
		cfg = &Config{Level: "info"}
	}

	// 补齐默认值
	cfg.SetDefaults()

	// 设置日志级别
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	Log.SetLevel(level)

	// 设置格式化器（固定彩色文本格式）
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
	})

	// 设置输出目标（默认标准输出）
	Log.SetOutput(os.Stdout)

	// 记录调用位置
	Log.SetReportCaller(true)

	return nil
}

// InitWithSimpleConfig 用简化配置初始化日志器
// 只需要基础功能的场景用这个
func InitWithSimpleConfig(level string) error {
	return Init(&Config{Level: level})
}

// Shutdown 优雅关闭日志器
func Shutdown() {
	// 预留扩展点
}

// ============================================================================
// 日志函数
// ============================================================================

// WithFields 创建带字段的日志条目
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}

// WithField 创建带单个字段的日志条目
func WithField(key string, value interface{}) *logrus.Entry {
	return Log.WithField(key, value)
}

func Debug(args ...interface{}) {
	Log.Debug(args...)
}

func Info(args ...interface{}) {
	Log.Info(args...)
}

func Warn(args ...interface{}) {
	Log.Warn(args...)
}

func Debugf(format string, args ...interface{}) {
	Log.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	Log.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Log.Warnf(format, args...)
}

func Error(args ...interface{}) {
	Log.Error(args...)
}

func Errorf(format string, args ...interface{}) {
	Log.Errorf(format, args...)
}

func Fatal(args ...interface{}) {
	Log.Fatal(args...)
}

func Fatalf(format string, args ...interface{}) {
	Log.Fatalf(format, args...)
}
