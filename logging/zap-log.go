package logging

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.elastic.co/ecszap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LogLevelKey  = "LOG_LEVEL"
	LogFormatKey = "LOG_FORMAT"

	LogFormatConsole = "console"
	LogFormatJSON    = "json"
	LogFormatECS     = "ecs"
)

type WriteSyncer struct {
	io.Writer
}

func (ws WriteSyncer) Sync() error {
	return nil
}

// GetWriteSyncer returns a rotating file sink for the given log file.
func GetWriteSyncer(logName string) zapcore.WriteSyncer {
	var ioWriter = &lumberjack.Logger{
		Filename:   logName,
		MaxSize:    20, // MB
		MaxBackups: 5,  // number of backups
		MaxAge:     28, // days
		LocalTime:  true,
		Compress:   false,
	}
	var sw = WriteSyncer{
		ioWriter,
	}
	return sw
}

// SetupLogger builds the process logger: a JSON core writing to a rotating
// file plus console cores split between high-priority (stderr) and everything
// else (stdout). Level comes from LOG_LEVEL, format from LOG_FORMAT.
func SetupLogger(fileName string) *zap.Logger {
	if strings.EqualFold(viper.GetString(LogFormatKey), LogFormatECS) {
		return SetupLoggerECS()
	}

	minLevel := parseLevel(viper.GetString(LogLevelKey))

	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel && lvl >= minLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl < zapcore.ErrorLevel && lvl >= minLevel
	})

	logFile := GetWriteSyncer(fileName)
	fileLow := zapcore.AddSync(logFile)
	fileHigh := zapcore.AddSync(logFile)

	consoleDebugging := zapcore.Lock(os.Stdout)
	consoleErrors := zapcore.Lock(os.Stderr)

	var config zap.Config
	if strings.EqualFold(viper.GetString(LogFormatKey), LogFormatJSON) {
		config = zap.NewProductionConfig()
		config.EncoderConfig = zap.NewProductionEncoderConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	configConsole := config
	configConsole.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	// Machine-readable file output, human-readable console output.
	fileEncoder := zapcore.NewJSONEncoder(config.EncoderConfig)
	consoleEncoder := zapcore.NewConsoleEncoder(configConsole.EncoderConfig)

	core := zapcore.NewTee(
		zapcore.NewCore(fileEncoder, fileHigh, highPriority),
		zapcore.NewCore(consoleEncoder, consoleErrors, highPriority),
		zapcore.NewCore(fileEncoder, fileLow, lowPriority),
		zapcore.NewCore(consoleEncoder, consoleDebugging, lowPriority),
	)

	logger := zap.New(core, zap.AddCaller())
	return logger
}

// SetupLoggerECS builds an Elastic Common Schema logger for ELK shipping.
func SetupLoggerECS() *zap.Logger {
	encoderConfig := ecszap.EncoderConfig{
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   ecszap.FullCallerEncoder,
	}
	core := ecszap.NewCore(encoderConfig, os.Stdout, parseLevel(viper.GetString(LogLevelKey)))
	return zap.New(core, zap.AddCaller())
}

func parseLevel(raw string) zapcore.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
