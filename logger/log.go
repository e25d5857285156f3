package logger

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	current atomic.Pointer[zap.Logger]
	level   = zap.NewAtomicLevelAt(zapcore.DebugLevel) // Init 与 SetLevel 共用，运行时可调
)

func init() {
	current.Store(newConsole(level))
}

// Options 日志初始化参数
type Options struct {
	Level  string // debug/info/warn/error
	Format string // console | json
}

func newConsole(level zap.AtomicLevel) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		CallerKey:    "caller",
		MessageKey:   "msg",
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.CapitalColorLevelEncoder, // 彩色等级
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stdout),
		level,
	)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

func newJSON(level zap.AtomicLevel) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.MessageKey = "msg"
	return cfg.Build(zap.AddCallerSkip(1))
}

func parseLevel(s string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.Set(strings.ToLower(strings.TrimSpace(s))); err != nil {
		return lvl, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// Init 按配置重建全局 logger
func Init(opts Options) error {
	lvl, err := parseLevel(opts.Level)
	if err != nil {
		return err
	}
	switch strings.ToLower(opts.Format) {
	case "", "console":
		Replace(newConsole(level))
	case "json":
		l, err := newJSON(level)
		if err != nil {
			return err
		}
		Replace(l)
	default:
		return fmt.Errorf("invalid log format %q", opts.Format)
	}
	level.SetLevel(lvl)
	return nil
}

// SetLevel 运行时调整 Init 建出来的 logger 的级别
func SetLevel(s string) error {
	lvl, err := parseLevel(s)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

func Level() string { return level.Level().String() }

// Replace swaps the global logger; tests pass a zaptest logger here.
func Replace(l *zap.Logger) {
	if l == nil {
		return
	}
	current.Store(l)
}

func L() *zap.Logger { return current.Load() }

// Named returns a component logger. It does not carry the caller skip of the shortcuts.
func Named(name string) *zap.Logger {
	return L().WithOptions(zap.AddCallerSkip(-1)).Named(name)
}

func Sync() { _ = L().Sync() }

// 快捷方法
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }
