package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail       = errors.New("invalid email format")
	ErrEmailTooLong       = errors.New("email address too long")
	ErrAddressLineMissing = errors.New("destination address line1 is required")
	ErrPostcodeMissing    = errors.New("destination postcode is required")
	ErrAddressTooLong     = errors.New("destination address field too long")
	ErrInvalidCountry     = errors.New("destination country must be an ISO 3166 alpha-2 code")
	ErrReasonTooLong      = errors.New("reason too long (max 1000 chars)")
)

// 验证常量
const (
	MaxEmailLength        = 254 // RFC 5322
	MaxAddressFieldLength = 255
	MaxReasonLength       = 1000
)

var countryCodeRegex = regexp.MustCompile(`^[A-Z]{2}$`)

// ValidateEmail 校验通知收件地址
func ValidateEmail(email string) error {
	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}

// Validate 校验转寄目的地址
func (a Address) Validate() error {
	if strings.TrimSpace(a.Line1) == "" {
		return ErrAddressLineMissing
	}
	if strings.TrimSpace(a.Postcode) == "" {
		return ErrPostcodeMissing
	}
	for _, f := range []string{a.Name, a.Line1, a.Line2, a.City, a.Postcode} {
		if utf8.RuneCountInString(f) > MaxAddressFieldLength {
			return ErrAddressTooLong
		}
	}
	if a.Country != "" && !countryCodeRegex.MatchString(a.Country) {
		return ErrInvalidCountry
	}
	return nil
}

// ValidateReason 转寄原因为可选的自由文本
func ValidateReason(reason string) error {
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return ErrReasonTooLong
	}
	return nil
}
