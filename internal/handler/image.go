package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"imagegen-backend/internal/model"
	"imagegen-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ImageGenerator 图片生成服务
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type ImageHandler struct {
	imageService ImageGenerator
}

func NewImageHandler(imageService ImageGenerator) *ImageHandler {
	return &ImageHandler{
		imageService: imageService,
	}
}

// Generate POST /api/generate
func (h *ImageHandler) Generate(c *gin.Context) {
	var req model.GenerateRequest
	// 空请求体视为未提供 prompt
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.Debugf("请求解析失败: %v", err)
		writeError(c, model.NewValidationError(model.MsgInvalidBody))
		return
	}

	imageURL, err := h.imageService.Generate(c.Request.Context(), req.Prompt)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.GenerateResponse{ImageURL: imageURL})
}

// writeError 所有错误统一转换为 {error} 响应
func writeError(c *gin.Context, err error) {
	ge := model.AsGenerationError(err)

	status := ge.Status
	switch ge.Kind {
	case model.ValidationError:
		status = http.StatusBadRequest
	case model.UpstreamTransportError:
		if status < 400 {
			status = http.StatusInternalServerError
		}
	case model.UpstreamContractError:
		status = http.StatusInternalServerError
	default:
		status = http.StatusInternalServerError
	}

	msg := ge.Message
	if msg == "" {
		msg = model.MsgUnexpected
	}

	c.JSON(status, model.ErrorResponse{Error: msg})
}
