package domain

import "strings"

// Address 结构化的邮寄地址
type Address struct {
	Name     string `json:"name,omitempty" gorm:"type:varchar(255)"`
	Line1    string `json:"line1" gorm:"type:varchar(255)"`
	Line2    string `json:"line2,omitempty" gorm:"type:varchar(255)"`
	City     string `json:"city,omitempty" gorm:"type:varchar(128)"`
	Postcode string `json:"postcode,omitempty" gorm:"type:varchar(16)"`
	Country  string `json:"country,omitempty" gorm:"type:varchar(2)"`
}

// IsZero 地址是否未填写
func (a Address) IsZero() bool {
	return strings.TrimSpace(a.Line1) == "" && strings.TrimSpace(a.Postcode) == ""
}

// Lines 按投递顺序返回非空行
func (a Address) Lines() []string {
	lines := make([]string, 0, 6)
	for _, l := range []string{a.Name, a.Line1, a.Line2, a.City, a.Postcode, a.Country} {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
