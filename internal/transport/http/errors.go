package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mailroom/backend/internal/domain"
)

// 错误分类的对外写法
const (
	errorNotFound   = string(domain.KindNotFound)
	errorForbidden  = string(domain.KindForbidden)
	errorValidation = string(domain.KindValidation)
	errorInternal   = string(domain.KindInternal)
)

// 通用错误消息
const (
	MsgInvalidJSON     = "Request body is not valid JSON"
	MsgInvalidRequest  = "Request body does not match the expected shape"
	MsgUserMismatch    = "userId does not match the authenticated user"
	MsgInternalError   = "Internal server error"
	MsgInvalidStatus   = "Unknown forwarding status"
	MsgInvalidUserID   = "userId must be a positive integer"
	MsgInvalidLocation = "locationId is required"
)

// statusByKind 错误分类到 HTTP 状态码的唯一映射
var statusByKind = map[domain.ErrorKind]int{
	domain.KindNotFound:   http.StatusNotFound,
	domain.KindForbidden:  http.StatusForbidden,
	domain.KindConflict:   http.StatusConflict,
	domain.KindValidation: http.StatusBadRequest,
	domain.KindInternal:   http.StatusInternalServerError,
}

// StatusFor 返回错误对应的 HTTP 状态码
func StatusFor(err error) int {
	if status, ok := statusByKind[domain.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// toErrorResponse 把业务错误转换为响应体，内部错误不泄露底层细节
func toErrorResponse(err error) ErrorResponse {
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind == domain.KindInternal {
		return ErrorResponse{
			Error:   errorInternal,
			Reason:  domain.CodeInternal,
			Message: MsgInternalError,
		}
	}
	resp := ErrorResponse{
		Error:   string(de.Kind),
		Reason:  de.Code,
		Message: de.Message,
	}
	switch fields, ok := de.Details["fields"]; {
	case ok && len(de.Details) == 1:
		// 字段级诊断直接以数组返回
		resp.Details = fields
	case len(de.Details) > 0:
		resp.Details = de.Details
	}
	return resp
}

// RespondError 按分类写出错误响应
func RespondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(StatusFor(err), toErrorResponse(err))
}

// respondWebhookError Webhook 调用方按原因码分支，error 字段直接给出原因码
func respondWebhookError(c *gin.Context, err error) {
	_ = c.Error(err)
	resp := toErrorResponse(err)
	resp.Error = resp.Reason
	c.JSON(StatusFor(err), resp)
}
