package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level"`       // 日志级别: debug, info, warn, error
	OutputFile string `yaml:"output_file"` // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize    int    `yaml:"max_size"`    // 日志文件最大大小（MB）
	MaxBackups int    `yaml:"max_backups"` // 保留的旧日志文件数量
	MaxAge     int    `yaml:"max_age"`     // 保留旧日志文件的天数
	Compress   bool   `yaml:"compress"`    // 是否压缩旧日志文件
}

// Init 初始化全局 logrus
// 配置了 OutputFile 时同时写控制台和轮转文件。
func Init(cfg Config) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if cfg.OutputFile == "" {
		logrus.SetOutput(os.Stdout)
		return
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.OutputFile,
		MaxSize:    orDefault(cfg.MaxSize, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 5),
		MaxAge:     orDefault(cfg.MaxAge, 14),
		Compress:   cfg.Compress,
	}
	logrus.SetOutput(io.MultiWriter(os.Stdout, rotator))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
