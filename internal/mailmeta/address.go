package mailmeta

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"mailroom/backend/internal/domain"
)

var (
	// ErrEmptyAddress 地址文本为空
	ErrEmptyAddress = errors.New("address text is empty")
	// ErrNoStreetLine 解析后没有街道行
	ErrNoStreetLine = errors.New("address has no street line")
)

// ukPostcodeRegex 英国邮编，外码与内码之间空格可缺省
var ukPostcodeRegex = regexp.MustCompile(`(?i)\b([A-Z]{1,2}[0-9][A-Z0-9]?)\s*([0-9][A-Z]{2})\b`)

var spaceRun = regexp.MustCompile(`\s+`)

// countryAliases 折叠后的国家名 -> ISO 3166 alpha-2
var countryAliases = map[string]string{
	"united kingdom":      "GB",
	"uk":                  "GB",
	"gb":                  "GB",
	"great britain":       "GB",
	"england":             "GB",
	"scotland":            "GB",
	"wales":               "GB",
	"northern ireland":    "GB",
	"ireland":             "IE",
	"republic of ireland": "IE",
	"france":              "FR",
	"germany":             "DE",
	"spain":               "ES",
	"netherlands":         "NL",
	"united states":       "US",
	"usa":                 "US",
	"us":                  "US",
}

// CanonicalPostcode 规范化英国邮编，非邮编返回 false
func CanonicalPostcode(s string) (string, bool) {
	m := ukPostcodeRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil || len(strings.TrimSpace(s)) != len(m[0]) {
		return "", false
	}
	return strings.ToUpper(m[1]) + " " + strings.ToUpper(m[2]), true
}

// CountryCode 识别国家行
func CountryCode(line string) (string, bool) {
	if code, ok := countryAliases[fold(line)]; ok {
		return code, true
	}
	return "", false
}

// ParseAddress 把多行地址文本解析为结构化地址
//
// 单行输入按逗号拆分。末尾国家行与邮编会被识别，倒数第一个剩余行视为城市，
// 首行不含数字且下一行以门牌号开头时视为收件人姓名。
func ParseAddress(raw string) (domain.Address, error) {
	lines := splitAddressLines(raw)
	if len(lines) == 0 {
		return domain.Address{}, ErrEmptyAddress
	}

	var addr domain.Address

	if code, ok := CountryCode(lines[len(lines)-1]); ok && len(lines) > 1 {
		addr.Country = code
		lines = lines[:len(lines)-1]
	}

	lines = extractPostcode(lines, &addr)
	if addr.Postcode != "" && addr.Country == "" {
		addr.Country = "GB"
	}

	if len(lines) >= 2 {
		addr.City = lines[len(lines)-1]
		lines = lines[:len(lines)-1]
	}

	if len(lines) >= 2 && !hasDigit(lines[0]) && startsWithNumber(lines[1]) {
		addr.Name = lines[0]
		lines = lines[1:]
	}

	if len(lines) == 0 {
		return domain.Address{}, ErrNoStreetLine
	}
	addr.Line1 = lines[0]
	if len(lines) > 1 {
		addr.Line2 = strings.Join(lines[1:], ", ")
	}
	return addr, nil
}

// extractPostcode 在最后两行中查找邮编，整行是邮编时移除该行，否则保留剩余文本
func extractPostcode(lines []string, addr *domain.Address) []string {
	for i := len(lines) - 1; i >= 0 && i >= len(lines)-2; i-- {
		loc := ukPostcodeRegex.FindStringSubmatchIndex(lines[i])
		if loc == nil {
			continue
		}
		m := lines[i]
		addr.Postcode = strings.ToUpper(m[loc[2]:loc[3]]) + " " + strings.ToUpper(m[loc[4]:loc[5]])
		rest := strings.Trim(strings.TrimSpace(m[:loc[0]]+" "+m[loc[1]:]), ", ")
		rest = spaceRun.ReplaceAllString(rest, " ")
		out := append([]string{}, lines[:i]...)
		if rest != "" {
			out = append(out, rest)
		}
		return append(out, lines[i+1:]...)
	}
	return lines
}

func splitAddressLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	parts := strings.Split(raw, "\n")
	if len(parts) == 1 {
		parts = strings.Split(raw, ",")
	}
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(spaceRun.ReplaceAllString(strings.TrimSpace(p), " "), ",")
		p = strings.TrimSpace(p)
		if p != "" {
			lines = append(lines, p)
		}
	}
	return lines
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func startsWithNumber(s string) bool {
	for _, r := range s {
		return unicode.IsDigit(r)
	}
	return false
}
