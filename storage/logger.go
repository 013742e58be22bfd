package storage

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig configures the structured logger used by the pool
type LoggerConfig struct {
	// Level is the minimum level: debug, info, warn or error. Defaults to info.
	Level string `yaml:"level" json:"level"`
	// Format is json or console
	Format string `yaml:"format" json:"format"`
	// OutputFile is a path, or stdout/stderr
	OutputFile string `yaml:"output_file" json:"output_file"`
}

// NewLogger builds a zap logger tagged with service=hexpool. The returned
// func closes the log file, if any; call it after the last Sync.
func NewLogger(config LoggerConfig) (*zap.Logger, func(), error) {
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(config.Level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel)
	}

	writeSyncer, closeOutput, err := zap.Open(logOutputPath(config.OutputFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log output %s: %w", config.OutputFile, err)
	}

	core := zapcore.NewCore(logEncoder(config.Format), writeSyncer, logLevel)

	logger := zap.New(core, zap.AddCaller()).
		With(zap.String("service", "hexpool"))
	return logger, closeOutput, nil
}

func logEncoder(format string) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	if strings.ToLower(format) == "console" {
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

// logOutputPath maps the configured output to a zap.Open path
func logOutputPath(outputFile string) string {
	switch strings.ToLower(outputFile) {
	case "stdout", "":
		return "stdout"
	case "stderr":
		return "stderr"
	default:
		return outputFile
	}
}
