package model

// GenerateRequest 前端提交的生成请求
type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

// UpstreamPayload 发往上游对话接口的请求体，每次请求重新构造
type UpstreamPayload struct {
	Messages      []UpstreamMessage `json:"messages"`
	UserID        string            `json:"user_id"`
	CodeModelMode bool              `json:"codeModelMode"`
	AgentMode     AgentMode         `json:"agentMode"`
}

type UpstreamMessage struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// AgentMode 指定上游使用的图片生成模式
type AgentMode struct {
	Mode bool   `json:"mode"`
	ID   string `json:"id"`
	Name string `json:"name"`
}
