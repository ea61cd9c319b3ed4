package httptransport

import (
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"

	"mailroom/backend/internal/domain"
)

// ingestEventSchema 入站 Webhook 的最小约束：只有 name 必填，其余字段校验类型，
// 落库的字符串字段限制长度，避免超长输入在数据库层失败后被当作服务端错误重试
const ingestEventSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name"],
  "properties": {
    "name":    {"type": "string", "minLength": 1, "maxLength": %d},
    "userId":  {"type": ["string", "integer", "null"]},
    "itemId":  {"type": ["string", "integer", "null"], "maxLength": %d},
    "webUrl":  {"type": ["string", "null"]},
    "tag":     {"type": ["string", "null"]},
    "sender":  {"type": ["string", "null"], "maxLength": %d},
    "subject": {"type": ["string", "null"], "maxLength": %d},
    "path":    {"type": ["string", "null"]},
    "event":   {"type": ["string", "null"]},
    "size":    {"type": ["integer", "null"], "minimum": 0}
  }
}`

// webhookSchema 预编译的载荷校验器
type webhookSchema struct {
	schema *gojsonschema.Schema
}

// newWebhookSchema 编译载荷校验器，itemId 上限扣除 "<来源前缀>:" 的长度
func newWebhookSchema(sourcePrefix string) (*webhookSchema, error) {
	maxItemID := domain.MaxIdempotencyKeyLength - utf8.RuneCountInString(sourcePrefix) - 1
	if maxItemID < 1 {
		return nil, fmt.Errorf("source prefix %q leaves no room for item ids", sourcePrefix)
	}

	source := fmt.Sprintf(ingestEventSchema,
		domain.MaxFileNameLength,
		maxItemID,
		domain.MaxSenderNameLength,
		domain.MaxSubjectLength,
	)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		return nil, fmt.Errorf("compile webhook schema: %w", err)
	}
	return &webhookSchema{schema: schema}, nil
}

// Decode 校验并解析原始请求体，调用方输入错误一律返回 Validation 错误
func (s *webhookSchema) Decode(raw []byte) (*domain.IngestEvent, error) {
	if !json.Valid(raw) {
		return nil, domain.Validation(domain.CodeInvalidJSON, MsgInvalidJSON)
	}

	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, domain.Validation(domain.CodeInvalidJSON, MsgInvalidJSON)
	}
	if !result.Valid() {
		fields := make([]FieldError, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			field := e.Field()
			if p, ok := e.Details()["property"].(string); ok && e.Type() == "required" {
				field = p
			}
			fields = append(fields, FieldError{Field: field, Message: e.Description()})
		}
		sort.Slice(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
		return nil, domain.Validation(domain.CodeInvalidPayload, "Webhook payload failed validation").
			WithDetails(map[string]interface{}{"fields": fields})
	}

	var event domain.IngestEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, domain.Validation(domain.CodeInvalidPayload, err.Error())
	}
	return &event, nil
}
