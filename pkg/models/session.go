package models

import "time"

// State 是单个版本安装状态机的状态。
type State string

const (
	StatePending               State = "pending"
	StateDownloading           State = "downloading"
	StateBackingUp             State = "backing-up"
	StateExtracting            State = "extracting"
	StateReconciling           State = "reconciling"
	StateFinalizingPermissions State = "finalizing-permissions"
	StateRunningHooks          State = "running-hooks"
	StateDone                  State = "done"
	StateFailed                State = "failed"
)

// Terminal 表示状态不会再迁移。
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Status 是会话汇总中每个版本的结果。
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// VersionResult 记录一个被选版本的安装结果。
type VersionResult struct {
	Entry      CatalogEntry
	State      State // 最终状态
	FailedAt   State // 失败发生时所处的状态
	Status     Status
	Err        error
	Warnings   []string // 不影响结果的问题，例如配置文件损坏后保留默认值
	Dropped    []string // 合并时丢弃的旧配置键
	StartedAt  time.Time
	FinishedAt time.Time
}

// InstallSession 是一次运行的临时状态，不跨运行持久化。
type InstallSession struct {
	StagingPath string
	TargetDir   string
	BackupDir   string
	Results     []VersionResult
}

// Succeeded 表示所有被选版本都已完成。
func (s *InstallSession) Succeeded() bool {
	if len(s.Results) == 0 {
		return false
	}
	for _, r := range s.Results {
		if r.Status != StatusSuccess {
			return false
		}
	}
	return true
}

// InstallRecord 是成功安装后持久化的记录。
type InstallRecord struct {
	Version     string    `json:"version"`
	Beta        bool      `json:"beta"`
	DisplayName string    `json:"display_name"`
	Source      string    `json:"source"`
	InstalledAt time.Time `json:"installed_at"`
}
