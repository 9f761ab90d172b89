// Package errors 定义全系统统一的错误码与错误类型。
// 每个错误码登记一组默认属性（文案、严重程度、可重试、是否告警），
// 业务包在 init 阶段登记自己的码，处理器与告警按属性分流。
package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示系统内统一的错误码。
type Code string

// Severity 描述错误的严重程度，用于日志与告警分级。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 描述错误码的默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

const (
	CodeUnknown              Code = "UNKNOWN"
	CodeInvalidArgument      Code = "INVALID_ARGUMENT"
	CodeNotFound             Code = "NOT_FOUND"
	CodeConflict             Code = "CONFLICT"
	CodeConfigurationFailure Code = "CONFIGURATION_FAILURE"
	CodeNoAllocation         Code = "NO_ALLOCATION"
	CodeChainExecution       Code = "CHAIN_EXECUTION_FAILURE"
	CodePublishFailure       Code = "PUBLISH_FAILURE"
	CodeStorageFailure       Code = "STORAGE_FAILURE"
	CodeQueueFailure         Code = "QUEUE_FAILURE"
	CodeInitialization       Code = "INITIALIZATION_FAILURE"
	CodeTimeout              Code = "TIMEOUT"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[Code]Attributes)
)

var builtinCodes = []struct {
	code Code
	attr Attributes
}{
	{CodeUnknown, Attributes{Message: "unknown error", Severity: SeverityCritical, Alert: true}},
	{CodeInvalidArgument, Attributes{Message: "invalid argument", Severity: SeverityInfo}},
	{CodeNotFound, Attributes{Message: "resource not found", Severity: SeverityInfo}},
	{CodeConflict, Attributes{Message: "resource conflict", Severity: SeverityWarning}},
	{CodeConfigurationFailure, Attributes{Message: "configuration incomplete", Severity: SeverityCritical, Alert: true}},
	{CodeNoAllocation, Attributes{Message: "no allocation percentage configured", Severity: SeverityInfo}},
	{CodeChainExecution, Attributes{Message: "on-chain execution failed", Severity: SeverityCritical, Alert: true}},
	{CodePublishFailure, Attributes{Message: "document publication failed", Severity: SeverityWarning, Retryable: true, Alert: true}},
	{CodeStorageFailure, Attributes{Message: "storage failure", Severity: SeverityCritical, Retryable: true, Alert: true}},
	{CodeQueueFailure, Attributes{Message: "queue failure", Severity: SeverityCritical, Retryable: true, Alert: true}},
	{CodeInitialization, Attributes{Message: "component not initialized", Severity: SeverityWarning, Retryable: true, Alert: true}},
	{CodeTimeout, Attributes{Message: "operation timed out", Severity: SeverityWarning, Retryable: true, Alert: true}},
}

func init() {
	for _, entry := range builtinCodes {
		registry[entry.code] = entry.attr
	}
}

// Register 允许业务包在初始化阶段登记自己的错误码。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	registry[code] = attr
	registryMu.Unlock()
}

// AttributesOf 返回错误码的属性，未登记的错误码回退到 UNKNOWN。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
// 属性在构造时从注册表解析成快照，Option 直接覆盖快照字段，
// 之后对注册表的改动不影响已构造的错误。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	attrs    Attributes
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外的键值信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable 覆盖错误码默认的重试属性。
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.attrs.Retryable = retryable }
}

// WithAlert 覆盖错误码默认的告警属性。
func WithAlert(alert bool) Option {
	return func(e *Error) { e.attrs.Alert = alert }
}

// WithSeverity 覆盖错误码默认的严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.attrs.Severity = sev }
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	attrs := AttributesOf(code)
	if message == "" {
		message = attrs.Message
	}
	e := &Error{code: code, message: message, attrs: attrs}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 按错误码比较。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	return ok && e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的拷贝。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	return e != nil && e.attrs.Retryable
}

// ShouldAlert 判断是否需要告警。
func (e *Error) ShouldAlert() bool {
	return e != nil && e.attrs.Alert
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return e.attrs.Severity
}

// From 尝试从任意 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// ShouldAlert 判断任意 error 是否需要触发告警。
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return e.ShouldAlert()
	}
	return false
}

// SeverityOf 返回任意 error 的严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
