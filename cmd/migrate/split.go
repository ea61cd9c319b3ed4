package main

import "strings"

// splitStatements 分割SQL语句（按分号分割，忽略字符串中的分号）
//
// 整行注释在分割前去掉，语句前的说明注释不会导致语句被跳过。
func splitStatements(sql string) []string {
	var statements []string
	var current strings.Builder
	var inString bool
	var stringChar rune

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, r := range stripLineComments(sql) {
		switch {
		case r == '\'' || r == '"' || r == '`':
			if !inString {
				inString = true
				stringChar = r
			} else if r == stringChar {
				inString = false
			}
			current.WriteRune(r)
		case r == ';' && !inString:
			current.WriteRune(r)
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()

	return statements
}

// stripLineComments 删除以 -- 开头的整行注释
func stripLineComments(sql string) string {
	lines := strings.Split(sql, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
