// Package mailmeta 从外部文件名、URL 与自由文本中恢复邮件元数据。
//
// 每种启发式都是一个纯函数策略，按顺序组合，首个成功者生效。
package mailmeta

// Strategy 从单一输入中尝试提取一项元数据
type Strategy[T any] func(input string) (T, bool)

// FirstMatch 依次尝试策略，返回首个成功结果
func FirstMatch[T any](input string, strategies ...Strategy[T]) (T, bool) {
	for _, s := range strategies {
		if v, ok := s(input); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Source 带名称的候选来源，名称用于日志
type Source[T any] struct {
	Name    string
	Resolve func() (T, bool)
}

// Resolve 依次尝试来源，返回首个成功结果及其来源名称
func Resolve[T any](sources ...Source[T]) (T, string, bool) {
	for _, src := range sources {
		if v, ok := src.Resolve(); ok {
			return v, src.Name, true
		}
	}
	var zero T
	return zero, "", false
}

// Bind 把策略绑定到具体输入，得到可放入 Resolve 的来源
func Bind[T any](name, input string, strategies ...Strategy[T]) Source[T] {
	return Source[T]{
		Name: name,
		Resolve: func() (T, bool) {
			return FirstMatch(input, strategies...)
		},
	}
}
