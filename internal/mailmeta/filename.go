package mailmeta

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MaxOwnerID 可接受的最大用户 ID
const MaxOwnerID = 2147483647

var (
	ownerPrefixRegex  = regexp.MustCompile(`(?i)^user[_-]?(\d{1,10})(?:[^0-9]|$)`)
	ownerURLDirRegex  = regexp.MustCompile(`(?i)/users?/(\d{1,10})(?:/|$)`)
	ownerURLNameRegex = regexp.MustCompile(`(?i)/user[_-]?(\d{1,10})(?:[/_\-. ]|$)`)

	ukDateRegex  = regexp.MustCompile(`(?:^|[^0-9])(\d{1,2})[-_/.](\d{1,2})[-_/.](\d{4})(?:[^0-9]|$)`)
	isoDateRegex = regexp.MustCompile(`(?:^|[^0-9])(\d{4})[-_/.](\d{1,2})[-_/.](\d{1,2})(?:[^0-9]|$)`)
)

// Metadata 从文件名恢复出的元数据
type Metadata struct {
	OwnerID    *int64
	ReceivedAt *time.Time
	Tag        string
}

// Extract 一次性执行三条文件名策略链
func Extract(name string) Metadata {
	var md Metadata
	if id, ok := FirstMatch(name, OwnerStrategies...); ok {
		md.OwnerID = &id
	}
	if at, ok := FirstMatch(name, DateStrategies...); ok {
		md.ReceivedAt = &at
	}
	if tag, ok := FirstMatch(name, TagStrategies...); ok {
		md.Tag = tag
	}
	return md
}

// OwnerStrategies 文件名中的用户 ID 策略
var OwnerStrategies = []Strategy[int64]{OwnerFromFilename}

// DateStrategies 文件名中的日期策略，英式日期优先
var DateStrategies = []Strategy[time.Time]{DateFromUKToken, DateFromISOToken}

// TagStrategies 文件名中的标签策略
var TagStrategies = []Strategy[string]{TagFromFilename}

// OwnerFromFilename 识别 user<digits> 前缀
func OwnerFromFilename(name string) (int64, bool) {
	m := ownerPrefixRegex.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return 0, false
	}
	return plausibleOwner(m[1])
}

// OwnerFromURL 从文件 URL 路径中恢复用户 ID，仅作最后手段
func OwnerFromURL(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
		if unescaped, err := url.PathUnescape(u.EscapedPath()); err == nil {
			p = unescaped
		}
	}
	for _, re := range []*regexp.Regexp{ownerURLDirRegex, ownerURLNameRegex} {
		if m := re.FindStringSubmatch(p); m != nil {
			if id, ok := plausibleOwner(m[1]); ok {
				return id, true
			}
		}
	}
	return OwnerFromFilename(path.Base(p))
}

// OwnerFromID 校验载荷中显式给出的用户 ID
func OwnerFromID(raw string) (int64, bool) {
	return plausibleOwner(strings.TrimSpace(raw))
}

func plausibleOwner(digits string) (int64, bool) {
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || id < 1 || id > MaxOwnerID {
		return 0, false
	}
	return id, true
}

// DateFromUKToken 识别 DD-MM-YYYY
func DateFromUKToken(name string) (time.Time, bool) {
	for _, m := range ukDateRegex.FindAllStringSubmatch(name, -1) {
		if t, ok := calendarDate(m[3], m[2], m[1]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// DateFromISOToken 识别 YYYY-MM-DD
func DateFromISOToken(name string) (time.Time, bool) {
	for _, m := range isoDateRegex.FindAllStringSubmatch(name, -1) {
		if t, ok := calendarDate(m[1], m[2], m[3]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// calendarDate 校验日历合法性，2 月 30 日之类的日期会被 time.Date 规范化而被拒绝
func calendarDate(y, m, d string) (time.Time, bool) {
	year, _ := strconv.Atoi(y)
	month, _ := strconv.Atoi(m)
	day, _ := strconv.Atoi(d)
	if year < 1990 || year > 2100 || month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

// TagFromFilename 在文件名分词中查找标签，相邻词组优先于单词
func TagFromFilename(name string) (string, bool) {
	base := name
	if ext := path.Ext(base); ext != "" && len(ext) <= 5 {
		base = strings.TrimSuffix(base, ext)
	}
	tokens := strings.Fields(fold(base))
	for i := 0; i+1 < len(tokens); i++ {
		if tag, ok := NormalizeTag(tokens[i] + " " + tokens[i+1]); ok {
			return tag, true
		}
	}
	for _, tok := range tokens {
		if tag, ok := NormalizeTag(tok); ok {
			return tag, true
		}
	}
	return "", false
}
