package model

type GenerateResponse struct {
	ImageURL string `json:"imageUrl"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// UpstreamResponse 上游返回体，只关心 link 字段
type UpstreamResponse struct {
	Link string `json:"link"`
}
