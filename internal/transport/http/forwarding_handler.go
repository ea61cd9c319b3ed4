package httptransport

import (
	"strings"

	"github.com/gin-gonic/gin"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/mailmeta"
	"mailroom/backend/internal/middleware"
	"mailroom/backend/internal/service"
)

// IdempotencyKeyHeader 客户端重试时携带的幂等键请求头
const IdempotencyKeyHeader = "Idempotency-Key"

// destinationInput 结构化地址，或以 raw 给出的多行自由文本
type destinationInput struct {
	Raw string `json:"raw"`
	domain.Address
}

type createForwardingRequest struct {
	UserID         domain.FlexibleID `json:"userId"`
	MailItemID     string            `json:"mailItemId"`
	Destination    destinationInput  `json:"destination"`
	Reason         string            `json:"reason"`
	Method         string            `json:"method"`
	IdempotencyKey string            `json:"idempotencyKey"`
}

type transitionRequest struct {
	Status string `json:"status"`
}

type forwardingResponse struct {
	OK                bool                      `json:"ok"`
	ForwardingRequest *domain.ForwardingRequest `json:"forwardingRequest"`
	Created           bool                      `json:"created"`
	ChargeAmount      int64                     `json:"chargeAmount"`
	Message           string                    `json:"message"`
}

// createForwarding godoc
// @Summary 发起实体邮件转寄
// @Description 同一封邮件同一时间只有一个活跃请求，重复提交返回已有请求
// @Tags Forwarding
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "幂等键"
// @Param request body createForwardingRequest true "转寄参数"
// @Success 201 {object} forwardingResponse
// @Success 200 {object} forwardingResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Security BearerAuth
// @Router /v1/forwarding-requests [post]
func (h *Handler) createForwarding(c *gin.Context) {
	var req createForwardingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, domain.CodeInvalidJSON, MsgInvalidJSON)
		return
	}

	userID, ok := callerID(c, req.UserID)
	if !ok {
		return
	}

	destination := req.Destination.Address
	if raw := strings.TrimSpace(req.Destination.Raw); raw != "" {
		parsed, err := mailmeta.ParseAddress(raw)
		if err != nil {
			BadRequest(c, domain.CodeInvalidAddress, err.Error())
			return
		}
		destination = parsed
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if header := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader)); header != "" {
		key = header
	}

	result, err := h.forwarding.Create(c.Request.Context(), service.CreateForwardingInput{
		UserID:         userID,
		MailItemID:     req.MailItemID,
		Destination:    destination,
		Reason:         req.Reason,
		Method:         req.Method,
		IdempotencyKey: key,
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	resp := forwardingResponse{
		OK:                true,
		ForwardingRequest: result.Request,
		Created:           result.Created,
		ChargeAmount:      result.ChargeAmount,
		Message:           result.Message,
	}
	if result.Created {
		Created(c, resp)
		return
	}
	Success(c, resp)
}

// getForwarding godoc
// @Summary 查询转寄请求
// @Tags Forwarding
// @Produce json
// @Param id path string true "转寄请求ID"
// @Param userId query int false "未启用 JWT 时的调用方用户ID"
// @Success 200 {object} domain.ForwardingRequest
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /v1/forwarding-requests/{id} [get]
func (h *Handler) getForwarding(c *gin.Context) {
	userID, ok := callerID(c, domain.FlexibleID(c.Query("userId")))
	if !ok {
		return
	}

	req, err := h.forwarding.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"ok": true, "forwardingRequest": req})
}

// transitionForwarding godoc
// @Summary 推进转寄状态
// @Description 运营人员使用，非法迁移返回 409
// @Tags Forwarding
// @Accept json
// @Produce json
// @Param id path string true "转寄请求ID"
// @Param request body transitionRequest true "目标状态"
// @Success 200 {object} domain.ForwardingRequest
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /v1/forwarding-requests/{id}/transition [post]
func (h *Handler) transitionForwarding(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, domain.CodeInvalidJSON, MsgInvalidJSON)
		return
	}
	status, err := domain.ParseForwardingStatus(req.Status)
	if err != nil {
		BadRequest(c, domain.CodeInvalidPayload, MsgInvalidStatus)
		return
	}

	updated, err := h.forwarding.Transition(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"ok": true, "forwardingRequest": updated})
}

// callerID 启用 JWT 时以令牌为准，请求中的 userId 与令牌不一致视为越权；
// 未启用时信任请求中的 userId。失败时已写出响应。
func callerID(c *gin.Context, claimed domain.FlexibleID) (int64, bool) {
	fromToken, authenticated := middleware.AuthenticatedUserID(c)
	if authenticated {
		if claimed != "" {
			id, ok := claimed.Int64()
			if !ok || id != fromToken {
				Forbidden(c, "user_mismatch", MsgUserMismatch)
				return 0, false
			}
		}
		return fromToken, true
	}

	id, ok := claimed.Int64()
	if !ok || id <= 0 {
		BadRequest(c, domain.CodeInvalidPayload, MsgInvalidUserID)
		return 0, false
	}
	return id, true
}
