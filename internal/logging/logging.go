// Package logging provides the module's structured logging facade.
package logging

import (
	"sync"

	"github.com/ternarybob/arbor"
	arborcommon "github.com/ternarybob/arbor/common"
	"github.com/ternarybob/arbor/models"
)

var (
	globalLogger arbor.ILogger
	loggerMutex  sync.RWMutex
)

// GetLogger returns the global logger instance. If InitLogger hasn't been
// called yet, returns a fallback console logger.
func GetLogger() arbor.ILogger {
	loggerMutex.RLock()
	if globalLogger != nil {
		loggerMutex.RUnlock()
		return globalLogger
	}
	loggerMutex.RUnlock()

	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if globalLogger == nil {
		globalLogger = arbor.NewLogger().WithConsoleWriter(consoleWriterConfig())
		globalLogger.Warn().Msg("using fallback logger - InitLogger should be called during startup")
	}
	return globalLogger
}

// InitLogger installs the given logger as the global singleton.
func InitLogger(logger arbor.ILogger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	globalLogger = logger
}

// Setup configures and installs the global logger from the given log file
// path and minimum level ("debug", "info", "warning", "error"). An empty
// logPath configures console-only logging.
func Setup(logPath, level string) arbor.ILogger {
	logger := arbor.NewLogger()

	if logPath != "" {
		logger = logger.WithFileWriter(fileWriterConfig(logPath))
	}
	logger = logger.WithConsoleWriter(consoleWriterConfig())
	logger = logger.WithLevelFromString(level)

	InitLogger(logger)
	return logger
}

func consoleWriterConfig() models.WriterConfiguration {
	return models.WriterConfiguration{
		Type:       models.LogWriterTypeConsole,
		TimeFormat: "15:04:05.000",
		OutputType: models.OutputFormatLogfmt,
	}
}

func fileWriterConfig(filename string) models.WriterConfiguration {
	return models.WriterConfiguration{
		Type:       models.LogWriterTypeFile,
		FileName:   filename,
		TimeFormat: "15:04:05.000",
		OutputType: models.OutputFormatJSON,
		MaxSize:    100 * 1024 * 1024,
		MaxBackups: 5,
	}
}

// Stop flushes any remaining context logs before application shutdown.
func Stop() {
	arborcommon.Stop()
}
