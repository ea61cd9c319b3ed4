package httptransport

import (
	"github.com/gin-gonic/gin"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/middleware"
)

// webhookResponse 入库成功响应
type webhookResponse struct {
	OK         bool   `json:"ok"`
	Action     string `json:"action"`
	MailItemID string `json:"mailItemId,omitempty"`
	UserID     int64  `json:"userId,omitempty"`
	Tag        string `json:"tag,omitempty"`
	ReceivedAt int64  `json:"receivedAt,omitempty"`
}

// receiveMail godoc
// @Summary 接收邮件扫描件事件
// @Description 外部文件同步集成推送的新建、更新与删除事件，重复投递收敛到同一条邮件记录
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Signature header string false "HMAC-SHA256 签名，sha256=<hex>"
// @Success 200 {object} webhookResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /v1/webhooks/mail [post]
func (h *Handler) receiveMail(c *gin.Context) {
	ctx := c.Request.Context()

	raw, err := middleware.RawBody(c)
	if err != nil {
		respondWebhookError(c, domain.Validation(domain.CodeInvalidJSON, MsgInvalidJSON))
		return
	}

	event, err := h.schema.Decode(raw)
	if err != nil {
		h.ingest.RecordRejected(ctx, nil, raw, err)
		respondWebhookError(c, err)
		return
	}

	result, err := h.ingest.Handle(ctx, event, raw)
	if err != nil {
		h.ingest.RecordRejected(ctx, event, raw, err)
		respondWebhookError(c, err)
		return
	}

	Success(c, webhookResponse{
		OK:         true,
		Action:     result.Action,
		MailItemID: result.MailItemID,
		UserID:     result.UserID,
		Tag:        result.Tag,
		ReceivedAt: result.ReceivedAt,
	})
}
