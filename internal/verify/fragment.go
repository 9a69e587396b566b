package verify

import (
	"fmt"
	"strings"

	xerrors "OpenAttest-Core/internal/errors"
)

// Category 为检查类别。
type Category string

const (
	CategoryStructure Category = "STRUCTURE"
	CategoryIntegrity Category = "INTEGRITY"
	CategoryStatus    Category = "STATUS"
	CategoryIdentity  Category = "IDENTITY"
)

// Categories 按固定的报告顺序列出全部类别。
var Categories = []Category{CategoryStructure, CategoryIntegrity, CategoryStatus, CategoryIdentity}

// ParseCategory 解析类别名称，忽略大小写。
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if strings.EqualFold(s, string(c)) {
			return c, nil
		}
	}
	return "", xerrors.Newf(xerrors.CodeInvalidArgument, "unknown verification category %q", s)
}

// Status 为片段状态。
type Status string

const (
	StatusValid   Status = "VALID"
	StatusInvalid Status = "INVALID"
	StatusError   Status = "ERROR"
	StatusSkipped Status = "SKIPPED"
)

// Reason 说明非 VALID 片段的原因。
type Reason struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

// Fragment 是单个检查的结果。
type Fragment struct {
	Category Category `json:"category"`
	Status   Status   `json:"status"`
	Name     string   `json:"name"`
	Detail   string   `json:"detail,omitempty"`
	Reason   *Reason  `json:"reason,omitempty"`
}

func (f Fragment) String() string {
	if f.Reason != nil {
		return fmt.Sprintf("%s/%s %s: %s (%s)", f.Category, f.Name, f.Status, f.Reason.Message, f.Reason.Code)
	}
	return fmt.Sprintf("%s/%s %s", f.Category, f.Name, f.Status)
}

// Result 为一次校验的全部片段，按 Categories 的顺序排列。
type Result struct {
	Fragments []Fragment `json:"fragments"`
	Valid     bool       `json:"valid"`
}

// Fragment 返回指定类别的片段。
func (r *Result) Fragment(c Category) (Fragment, bool) {
	if r == nil {
		return Fragment{}, false
	}
	for _, f := range r.Fragments {
		if f.Category == c {
			return f, true
		}
	}
	return Fragment{}, false
}

// HasError 判断是否存在 ERROR 片段。
func (r *Result) HasError() bool {
	if r == nil {
		return false
	}
	for _, f := range r.Fragments {
		if f.Status == StatusError {
			return true
		}
	}
	return false
}

// Fold 由片段推出总体有效性：没有 ERROR，且所有非 SKIPPED 片段均为 VALID。
func Fold(fragments []Fragment) bool {
	for _, f := range fragments {
		if f.Status != StatusValid && f.Status != StatusSkipped {
			return false
		}
	}
	return true
}

func newResult(fragments []Fragment) *Result {
	return &Result{Fragments: fragments, Valid: Fold(fragments)}
}

// outcome 是单个签发者在一类检查中的结论，多个签发者的结论由 merge 合并为片段。
type outcome struct {
	status Status
	reason *Reason
	detail string
}

func valid(detail string) outcome { return outcome{status: StatusValid, detail: detail} }

func invalid(code xerrors.Code, format string, args ...any) outcome {
	return outcome{status: StatusInvalid, reason: &Reason{Code: code, Message: fmt.Sprintf(format, args...)}}
}

func failed(err error) outcome {
	return outcome{status: StatusError, reason: reasonOf(err)}
}

func skipped(detail string) outcome { return outcome{status: StatusSkipped, detail: detail} }

func reasonOf(err error) *Reason {
	if e, ok := xerrors.From(err); ok {
		return &Reason{Code: e.Code(), Message: err.Error()}
	}
	return &Reason{Code: xerrors.CodeUnknown, Message: err.Error()}
}

// merge 合并多个签发者的结论：INVALID 优先于 ERROR，ERROR 优先于 VALID；
// 没有任何结论或全部 SKIPPED 时为 SKIPPED。
func merge(category Category, name string, outcomes []outcome) Fragment {
	f := Fragment{Category: category, Name: name, Status: StatusSkipped}
	var details []string
	for _, o := range outcomes {
		if o.detail != "" {
			details = append(details, o.detail)
		}
		if rank(o.status) > rank(f.Status) {
			f.Status = o.status
			f.Reason = o.reason
		}
	}
	f.Detail = strings.Join(details, "; ")
	return f
}

func rank(s Status) int {
	switch s {
	case StatusInvalid:
		return 3
	case StatusError:
		return 2
	case StatusValid:
		return 1
	default:
		return 0
	}
}
