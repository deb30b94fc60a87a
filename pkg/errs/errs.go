// Package errs 定义匹配流水线的错误分类：输入错误、依赖不可用、计算错误。
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind 是错误所属的类别，决定重试与降级策略。
type Kind int

const (
	KindUnknown Kind = iota
	// KindInput 空文本、格式错误、维度不一致等，立即拒绝且不重试。
	KindInput
	// KindDependency 索引/审计/解释等依赖超时或暂不可用，退避重试后降级为 partial。
	KindDependency
	// KindComputation 归因不收敛、数值不稳定，返回尽力而为的结果并带标记。
	KindComputation
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindDependency:
		return "dependency_unavailable"
	case KindComputation:
		return "computation"
	default:
		return "unknown"
	}
}

// ErrNotFound 表示外部存储中找不到对应的 job / resume。
var ErrNotFound = errors.New("not found")

// InputError 表示调用方提供的输入不合法，Field 指出有问题的字段。
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InputError) Kind() Kind { return KindInput }

// NewInput 构造一个 InputError。
func NewInput(field, reason string) error {
	return &InputError{Field: field, Reason: reason}
}

// DependencyUnavailable 表示某个依赖组件暂时不可用。
type DependencyUnavailable struct {
	Component string
	Err       error
}

func (e *DependencyUnavailable) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Component, e.Err)
}

func (e *DependencyUnavailable) Unwrap() error { return e.Err }

func (e *DependencyUnavailable) Kind() Kind { return KindDependency }

// Unavailable 将 err 包装为 DependencyUnavailable，err 为 nil 时返回 nil。
func Unavailable(component string, err error) error {
	if err == nil {
		return nil
	}
	return &DependencyUnavailable{Component: component, Err: err}
}

// ComputationError 表示数值计算层面的问题。
type ComputationError struct {
	Component string
	Reason    string
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("%s computation error: %s", e.Component, e.Reason)
}

func (e *ComputationError) Kind() Kind { return KindComputation }

type kinded interface {
	Kind() Kind
}

// KindOf 返回错误链上第一个可识别的类别。
// 超时与网络错误被视为依赖不可用；调用方主动取消不归入任何可重试类别。
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindDependency
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindDependency
	}
	return KindUnknown
}

// IsRetryable 判断错误是否值得退避重试。
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err) == KindDependency
}

// FieldOf 返回 InputError 中的字段名，非输入错误返回空串。
func FieldOf(err error) string {
	var in *InputError
	if errors.As(err, &in) {
		return in.Field
	}
	return ""
}
