package task

// TaskStats 汇总任务在各状态与各类型上的数量，供 /api/v1/jobs/stats 与命令行展示。
// 时间戳为 Unix 秒，没有任务时为 0。
type TaskStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	Verify          int   `json:"verify"`
	Issue           int   `json:"issue"`
	Revoke          int   `json:"revoke"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// count 把单个任务计入统计。
func (s *TaskStats) count(task *Task) {
	s.Total++
	switch task.Status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusSucceeded:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
	}
	switch task.Kind {
	case KindVerify:
		s.Verify++
	case KindIssue:
		s.Issue++
	case KindRevoke:
		s.Revoke++
	}
	if task.UpdatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = task.UpdatedAt
	}
	if s.OldestUpdatedAt == 0 || (task.UpdatedAt != 0 && task.UpdatedAt < s.OldestUpdatedAt) {
		s.OldestUpdatedAt = task.UpdatedAt
	}
}
