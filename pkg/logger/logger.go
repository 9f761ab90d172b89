// Package logger 提供进程级结构化日志。
// 常规日志走 slog，资金相关的审计事件走独立的轮转文件，
// 两者在 Init 时一次性装配。
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 描述应用日志的输出行为。
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig 控制资金操作审计日志的独立输出。
// 审计日志记录每一笔链上资金动作，与普通日志分开轮转保存。
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type state struct {
	base    *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var (
	mu      sync.Mutex
	current *state
)

// Init 装配全局日志。重复调用直接返回，保持首次装配的结果。
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		return nil
	}
	st, err := assemble(cfg)
	if err != nil {
		return err
	}
	current = st
	return nil
}

func assemble(cfg Config) (*state, error) {
	st := &state{}

	sink, err := st.openSinks(cfg.OutputPaths)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(sink, opts)
	} else {
		handler = slog.NewJSONHandler(sink, opts)
	}
	st.base = slog.New(handler)

	st.audit = st.base
	if cfg.Audit.Enabled {
		auditLogger, err := st.openAudit(cfg.Audit)
		if err != nil {
			return nil, err
		}
		st.audit = auditLogger
	}
	return st, nil
}

// openSinks 把输出路径列表合成单一 writer，空列表落到 stdout。
func (st *state) openSinks(paths []string) (io.Writer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil
	}
	writers := make([]io.Writer, 0, len(paths))
	for _, path := range paths {
		switch strings.ToLower(path) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("创建日志目录失败: %w", err)
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("打开日志文件 %s 失败: %w", path, err)
			}
			st.closers = append(st.closers, file)
			writers = append(writers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func (st *state) openAudit(cfg AuditConfig) (*slog.Logger, error) {
	if cfg.Path == "" {
		return nil, errors.New("启用审计日志时必须配置输出路径")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("创建审计日志目录失败: %w", err)
	}
	writer := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    defaulted(cfg.MaxSizeMB, 100),
		MaxBackups: defaulted(cfg.MaxBackups, 7),
		MaxAge:     defaulted(cfg.MaxAgeDays, 30),
	}
	st.closers = append(st.closers, writer)
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler), nil
}

func defaulted(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func parseLevel(level string) slog.Level {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return parsed
}

// L 返回全局结构化日志实例，未初始化时按默认配置装配。
func L() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		st, err := assemble(Config{})
		if err != nil {
			return slog.Default()
		}
		current = st
	}
	return current.base
}

// Audit 返回资金审计日志实例，未单独配置时与常规日志共用输出。
func Audit() *slog.Logger {
	L()
	mu.Lock()
	defer mu.Unlock()
	if current == nil || current.audit == nil {
		return slog.Default()
	}
	return current.audit
}

// Named 返回带组件名的子日志实例。
func Named(name string) *slog.Logger {
	return L().WithGroup(name)
}

// Sync 关闭全部日志输出并刷新缓冲。
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return nil
	}
	var err error
	for _, closer := range current.closers {
		err = errors.Join(err, closer.Close())
	}
	current.closers = nil
	return err
}
