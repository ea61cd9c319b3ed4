package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 统一错误响应结构
type ErrorResponse struct {
	OK      bool        `json:"ok"`
	Error   string      `json:"error"`             // 错误分类
	Reason  string      `json:"reason"`            // 业务原因码
	Message string      `json:"message"`           // 面向调用方的说明
	Details interface{} `json:"details,omitempty"` // 字段级诊断信息
}

// FieldError 字段级校验错误
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Created 创建成功响应（201）
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, reason, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   errorValidation,
		Reason:  reason,
		Message: msg,
	})
}

// Forbidden 无权限错误（403）
func Forbidden(c *gin.Context, reason, msg string) {
	c.JSON(http.StatusForbidden, ErrorResponse{
		Error:   errorForbidden,
		Reason:  reason,
		Message: msg,
	})
}
