package mailmeta

import (
	"regexp"
	"strings"
)

// 规范分类标签
const (
	TagHMRC           = "hmrc"
	TagCompaniesHouse = "companies_house"
	TagDVLA           = "dvla"
	TagNHS            = "nhs"
	TagPension        = "pension"
	TagCouncil        = "council"
	TagInsurance      = "insurance"
	TagBank           = "bank"
	TagUtilities      = "utilities"
	TagLegal          = "legal"
	TagOther          = "other"
)

// Tags 全部规范标签
var Tags = []string{
	TagHMRC, TagCompaniesHouse, TagDVLA, TagNHS, TagPension, TagCouncil,
	TagInsurance, TagBank, TagUtilities, TagLegal, TagOther,
}

// tagAliases 折叠后的别名 -> 规范标签，只做精确匹配
var tagAliases = map[string]string{
	"hmrc":                                TagHMRC,
	"hm revenue customs":                  TagHMRC,
	"hm revenue and customs":              TagHMRC,
	"inland revenue":                      TagHMRC,
	"companies house":                     TagCompaniesHouse,
	"companieshouse":                      TagCompaniesHouse,
	"dvla":                                TagDVLA,
	"driver and vehicle licensing agency": TagDVLA,
	"nhs":                                 TagNHS,
	"pension":                             TagPension,
	"pensions":                            TagPension,
	"council":                             TagCouncil,
	"council tax":                         TagCouncil,
	"insurance":                           TagInsurance,
	"bank":                                TagBank,
	"banking":                             TagBank,
	"utilities":                           TagUtilities,
	"utility":                             TagUtilities,
	"legal":                               TagLegal,
	"other":                               TagOther,
	"misc":                                TagOther,
}

type keywordRule struct {
	tag     string
	pattern *regexp.Regexp
}

// keywordRules 按从具体到宽泛排列，避免 "statement" 之类的宽泛词抢先命中
var keywordRules = []keywordRule{
	{TagCompaniesHouse, regexp.MustCompile(`\b(companies ?house|confirmation statement|registrar of companies)\b`)},
	{TagHMRC, regexp.MustCompile(`\b(hmrc|hm revenue|self assessment|vat return|paye|corporation tax|tax credits?)\b`)},
	{TagDVLA, regexp.MustCompile(`\b(dvla|v5c|vehicle tax)\b`)},
	{TagNHS, regexp.MustCompile(`\b(nhs|gp surgery|hospital)\b`)},
	{TagCouncil, regexp.MustCompile(`\b(council tax|borough council|city council|council|electoral roll)\b`)},
	{TagPension, regexp.MustCompile(`\b(pensions?|annuity)\b`)},
	{TagInsurance, regexp.MustCompile(`\b(insurance|insurer|policy renewal|aviva|direct line)\b`)},
	{TagUtilities, regexp.MustCompile(`\b(utility|utilities|electricity|gas bill|water bill|british gas|octopus energy|thames water|broadband)\b`)},
	{TagLegal, regexp.MustCompile(`\b(solicitors?|court|tribunal|legal notice)\b`)},
	{TagBank, regexp.MustCompile(`\b(bank|bank statement|barclays|hsbc|lloyds|natwest|santander|monzo|starling|credit card)\b`)},
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// fold 小写化并把所有非字母数字折叠为单个空格
func fold(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "&", " and ")
	return strings.TrimSpace(nonAlnum.ReplaceAllString(s, " "))
}

// NormalizeTag 把自由文本映射到规范标签，仅接受精确别名
func NormalizeTag(text string) (string, bool) {
	folded := fold(text)
	if folded == "" {
		return "", false
	}
	if tag, ok := tagAliases[folded]; ok {
		return tag, true
	}
	// "HM Revenue & Customs" 去掉 and 后的写法
	if tag, ok := tagAliases[strings.ReplaceAll(folded, " and ", " ")]; ok {
		return tag, true
	}
	for _, tag := range Tags {
		if folded == fold(tag) {
			return tag, true
		}
	}
	return "", false
}

// IsKnownTag 是否为规范标签
func IsKnownTag(tag string) bool {
	for _, t := range Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ClassifyText 在多段文本上按关键词规则分类
func ClassifyText(texts ...string) (string, bool) {
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		if f := fold(t); f != "" {
			parts = append(parts, f)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	haystack := strings.Join(parts, " | ")
	for _, rule := range keywordRules {
		if rule.pattern.MatchString(haystack) {
			return rule.tag, true
		}
	}
	return "", false
}

// TagFromText 以策略形式暴露别名归一化
func TagFromText(text string) (string, bool) {
	return NormalizeTag(text)
}
