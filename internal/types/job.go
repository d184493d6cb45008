package types

// JobStatus 后台处理任务的状态机状态。
// parsing → chunking → embedding → indexing → ready，error可从任意状态进入。
// ready和error对单个job id是终态；每次提交都会铸造新的job id。
type JobStatus string

const (
	// StatusUploading 在状态机里保留但管线不会设置，轮询方按未就绪处理
	StatusUploading JobStatus = "uploading"
	StatusParsing   JobStatus = "parsing"
	StatusChunking  JobStatus = "chunking"
	StatusEmbedding JobStatus = "embedding"
	StatusIndexing  JobStatus = "indexing"
	StatusReady     JobStatus = "ready"
	StatusError     JobStatus = "error"
)

// Terminal 该状态是否为终态
func (s JobStatus) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// JobRecord 一次管线提交的状态记录。仅存在于内存中，进程重启即消失；
// 重启后判断会话可用性只能依赖IsReady（检查磁盘上的索引文件）。
type JobRecord struct {
	Status    JobStatus `json:"status"`
	Detail    string    `json:"detail"`
	SessionID string    `json:"session_id"`
}
