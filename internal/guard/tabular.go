// file: internal/guard/tabular.go
package guard

import (
	"DataAegis/internal/core/domain"
)

// validatePipeline 校验表格方言的候选查询。
// 解析即校验：ParsePipeline 对词汇表之外的任何操作返回错误，
// 这里只负责把错误转译成拒绝结论。帧本身是不可变的，
// 词汇表内不存在任何赋值/原位修改类操作。
func validatePipeline(text string) error {
	if _, err := domain.ParsePipeline(text); err != nil {
		return reject(domain.DialectPipeline, "%v", err)
	}
	return nil
}
