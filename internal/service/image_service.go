package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf16"

	"imagegen-backend/internal/config"
	"imagegen-backend/internal/model"
	"imagegen-backend/internal/upstream"
	"imagegen-backend/pkg/logger"

	"github.com/google/uuid"
)

// ChatClient 上游对话接口
type ChatClient interface {
	Chat(ctx context.Context, payload *model.UpstreamPayload) (string, error)
}

type ImageService struct {
	client    ChatClient
	agentMode model.AgentMode
	maxLength int
}

func NewImageService(cfg *config.Config) *ImageService {
	return NewImageServiceWithClient(cfg, upstream.NewClient(cfg.Upstream))
}

func NewImageServiceWithClient(cfg *config.Config, client ChatClient) *ImageService {
	return &ImageService{
		client: client,
		agentMode: model.AgentMode{
			Mode: true,
			ID:   cfg.Upstream.AgentModeID,
			Name: cfg.Upstream.AgentModeName,
		},
		maxLength: cfg.Prompt.MaxLength,
	}
}

// Generate 校验提示词后请求上游一次，返回图片地址。
// 空值判断和转发内容使用去除首尾空白后的值，长度按收到的原始值计算。
func (s *ImageService) Generate(ctx context.Context, raw string) (string, error) {
	prompt := strings.TrimSpace(raw)
	if prompt == "" {
		return "", model.NewValidationError(model.MsgEmptyPrompt)
	}
	if promptLength(raw) > s.maxLength {
		return "", model.NewValidationError(model.PromptTooLongMessage(s.maxLength))
	}

	payload := s.buildPayload(prompt)
	log := logger.WithFields(logger.Fields{
		"user_id":       payload.UserID,
		"prompt_length": promptLength(prompt),
	})
	log.Debug("开始生成图片")

	start := time.Now()
	link, err := s.client.Chat(ctx, payload)
	if err != nil {
		ge := model.AsGenerationError(err)
		log.WithFields(logger.Fields{
			"kind":    ge.Kind.String(),
			"status":  ge.Status,
			"elapsed": time.Since(start).String(),
		}).WithError(err).Error("图片生成失败")
		return "", err
	}

	log.WithField("elapsed", time.Since(start).String()).Info("图片生成成功")
	return link, nil
}

func (s *ImageService) buildPayload(prompt string) *model.UpstreamPayload {
	return &model.UpstreamPayload{
		Messages: []model.UpstreamMessage{
			{Content: prompt, Role: "user"},
		},
		UserID:        uuid.NewString(),
		CodeModelMode: true,
		AgentMode:     s.agentMode,
	}
}

// promptLength 按 UTF-16 码元计数，与浏览器端 String.length 一致
func promptLength(s string) int {
	return len(utf16.Encode([]rune(s)))
}
