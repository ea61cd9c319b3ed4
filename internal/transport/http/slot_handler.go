package httptransport

import (
	"strings"

	"github.com/gin-gonic/gin"

	"mailroom/backend/internal/domain"
)

type claimSlotRequest struct {
	UserID     domain.FlexibleID `json:"userId"`
	LocationID string            `json:"locationId"`
}

type releaseSlotRequest struct {
	UserID domain.FlexibleID `json:"userId"`
}

type addSlotsRequest struct {
	Labels []string `json:"labels"`
}

type slotResponse struct {
	OK      bool                `json:"ok"`
	Slot    *domain.AddressSlot `json:"slot"`
	Created bool                `json:"created"`
}

// claimSlot godoc
// @Summary 领取实体地址槽
// @Description 用户已持有槽位时原样返回，created 为 false
// @Tags AddressSlots
// @Accept json
// @Produce json
// @Param request body claimSlotRequest true "领取参数"
// @Success 200 {object} slotResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /v1/address-slots/claim [post]
func (h *Handler) claimSlot(c *gin.Context) {
	var req claimSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, domain.CodeInvalidJSON, MsgInvalidJSON)
		return
	}
	userID, ok := callerID(c, req.UserID)
	if !ok {
		return
	}
	if strings.TrimSpace(req.LocationID) == "" {
		BadRequest(c, domain.CodeInvalidPayload, MsgInvalidLocation)
		return
	}

	slot, created, err := h.slots.Claim(c.Request.Context(), userID, req.LocationID)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, slotResponse{OK: true, Slot: slot, Created: created})
}

// releaseSlot godoc
// @Summary 归还地址槽
// @Description 订阅取消时由运营后台调用
// @Tags AddressSlots
// @Accept json
// @Produce json
// @Param request body releaseSlotRequest true "用户"
// @Success 200 {object} slotResponse
// @Failure 404 {object} ErrorResponse
// @Router /v1/address-slots/release [post]
func (h *Handler) releaseSlot(c *gin.Context) {
	var req releaseSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, domain.CodeInvalidJSON, MsgInvalidJSON)
		return
	}
	userID, ok := callerID(c, req.UserID)
	if !ok {
		return
	}

	slot, err := h.slots.Release(c.Request.Context(), userID)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, slotResponse{OK: true, Slot: slot})
}

// addSlots godoc
// @Summary 登记地点的新地址槽
// @Tags AddressSlots
// @Accept json
// @Produce json
// @Param locationId path string true "地点ID"
// @Param request body addSlotsRequest true "槽位标签"
// @Success 201 {object} []domain.AddressSlot
// @Failure 400 {object} ErrorResponse
// @Router /v1/locations/{locationId}/address-slots [post]
func (h *Handler) addSlots(c *gin.Context) {
	var req addSlotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, domain.CodeInvalidJSON, MsgInvalidJSON)
		return
	}

	slots, err := h.slots.AddSlots(c.Request.Context(), c.Param("locationId"), req.Labels)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, gin.H{"ok": true, "slots": slots})
}
