package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailroom/backend/internal/config"
)

// RawBodyKey gin 上下文中保存原始请求体的键
const RawBodyKey = "rawBody"

// DefaultSignatureHeader 默认签名请求头
const DefaultSignatureHeader = "X-Signature"

var errSignatureMismatch = errors.New("signature mismatch")

// WebhookAuth 校验入站 Webhook。
//
// 签名必须针对原始字节计算，因此在任何 JSON 解析之前读取请求体并保存到上下文，
// 下游处理器通过 RawBody 取用。
type WebhookAuth struct {
	secret    []byte
	header    string
	basicUser string
	basicPass string
	maxBytes  int64
	log       *zap.Logger
}

// NewWebhookAuth 创建 Webhook 认证中间件
func NewWebhookAuth(cfg *config.IngestConfig, log *zap.Logger) *WebhookAuth {
	header := strings.TrimSpace(cfg.SignatureHeader)
	if header == "" {
		header = DefaultSignatureHeader
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = SmallBodyLimit
	}
	return &WebhookAuth{
		secret:    []byte(cfg.WebhookSecret),
		header:    header,
		basicUser: cfg.BasicUser,
		basicPass: cfg.BasicPass,
		maxBytes:  maxBytes,
		log:       log,
	}
}

// Handler 返回 gin 中间件
func (w *WebhookAuth) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if w.basicUser != "" && !w.checkBasic(c.Request) {
			w.reject(c, "invalid basic credentials")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, w.maxBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
					"ok":      false,
					"error":   "validation_error",
					"reason":  "payload_too_large",
					"message": "Request body too large",
					"limit":   w.maxBytes,
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"ok":      false,
				"error":   "validation_error",
				"reason":  "invalid_json",
				"message": "Failed to read request body",
			})
			return
		}

		if len(w.secret) > 0 {
			if err := w.verifySignature(body, c.GetHeader(w.header)); err != nil {
				w.reject(c, "invalid signature")
				return
			}
		}

		c.Set(RawBodyKey, body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

func (w *WebhookAuth) checkBasic(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(w.basicUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(w.basicPass)) == 1
	return userOK && passOK
}

// verifySignature 接受 "sha256=<hex>" 与裸 hex 两种写法
func (w *WebhookAuth) verifySignature(body []byte, header string) error {
	provided := strings.TrimSpace(header)
	provided = strings.TrimPrefix(provided, "sha256=")
	got, err := hex.DecodeString(provided)
	if err != nil || len(got) == 0 {
		return errSignatureMismatch
	}
	if !hmac.Equal(got, Sign(w.secret, body)) {
		return errSignatureMismatch
	}
	return nil
}

func (w *WebhookAuth) reject(c *gin.Context, reason string) {
	w.log.Warn("webhook rejected",
		zap.String("reason", reason),
		zap.String("ip", c.ClientIP()),
		zap.String("path", c.Request.URL.Path),
	)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"ok":      false,
		"error":   "unauthorized",
		"reason":  "unauthorized",
		"message": "Webhook authentication failed",
	})
}

// Sign 计算 HMAC-SHA256
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// RawBody 取出中间件保存的原始请求体，未经过中间件时直接读取
func RawBody(c *gin.Context) ([]byte, error) {
	if v, ok := c.Get(RawBodyKey); ok {
		if body, ok := v.([]byte); ok {
			return body, nil
		}
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	c.Set(RawBodyKey, body)
	return body, nil
}
