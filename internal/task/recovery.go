package task

import (
	"context"

	"OpenAttest-Core/internal/document"
	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/verify"
)

// RecoveryHandler 定义了在任务执行失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 尝试根据失败原因进行补偿或降级。
	// 返回的 ExecutionResult 将作为降级结果写入任务；若返回 nil 则继续按照失败流程处理。
	Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error)
}

// IndeterminateRecovery 在校验任务因 ERROR 片段耗尽重试后，以 collect 策略重新校验，
// 把带 ERROR 片段的结果作为降级结果记录。其余失败不做处理。
type IndeterminateRecovery struct {
	verifier *verify.Verifier
}

// NewIndeterminateRecovery 构造补偿器。verifier 应使用 verify.ErrorPolicyCollect。
func NewIndeterminateRecovery(verifier *verify.Verifier) *IndeterminateRecovery {
	return &IndeterminateRecovery{verifier: verifier}
}

// Recover 实现 RecoveryHandler。
func (r *IndeterminateRecovery) Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error) {
	if r == nil || r.verifier == nil || task == nil || task.Kind != KindVerify {
		return nil, nil
	}
	if !xerrors.HasCode(cause, verify.CodeIndeterminate) {
		return nil, nil
	}
	doc, err := document.Decode(task.Document)
	if err != nil {
		return nil, err
	}
	res, err := r.verifier.Verify(ctx, doc)
	if err != nil {
		return nil, err
	}
	out, err := verificationResult(doc, res)
	if err != nil {
		return nil, err
	}
	out.Summary = "indeterminate: " + out.Summary
	return out, nil
}
