package logger

import (
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Log       *zap.SugaredLogger
	ZapLogger *zap.Logger // Expose the raw zap Logger
	file      string
)

// DefaultFile is where logs go until the configuration names another file.
const DefaultFile = "tts-cache.log"

func init() {
	// Packages may log before InitLogger runs, e.g. in tests.
	ZapLogger = zap.NewNop()
	Log = ZapLogger.Sugar()
}

// InitLogger writes INFO and above to path in the console format.
func InitLogger(path string) {
	if path == "" {
		path = DefaultFile
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:          "T",
		LevelKey:         "L",
		NameKey:          "N",
		CallerKey:        "",
		FunctionKey:      zapcore.OmitKey,
		MessageKey:       "M",
		StacktraceKey:    "S",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration:   zapcore.SecondsDurationEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		ConsoleSeparator: "  ",
	}

	logFile, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("can't open log file: %v", err)
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(logFile),
		zap.InfoLevel,
	)

	Sync()
	ZapLogger = zap.New(core)
	Log = ZapLogger.Sugar()
	file = path
	Log.Infow("Logger initialized", zap.String("file", path))
}

// File returns the path InitLogger opened, or "" before it ran.
func File() string {
	return file
}

// Named returns a child logger tagged with name.
func Named(name string) *zap.SugaredLogger {
	return Log.Named(name)
}

func Sync() {
	if ZapLogger != nil {
		_ = ZapLogger.Sync() // flushes buffer, if any
	}
}
