// file: internal/guard/sql.go
package guard

import (
	"DataAegis/internal/core/domain"
)

// forbiddenSQLWords 是任何位置出现即拒绝的词。
// 覆盖 DML、DDL、权限、存储过程调用以及各方言的管理语句。
// 词法层面比对裸词（大小写归一），字符串字面量与带引号的标识符不参与比对，
// 所以列名恰好叫 "update" 的带引号写法仍然可用。
var forbiddenSQLWords = map[string]struct{}{
	"INSERT": {}, "UPDATE": {}, "DELETE": {}, "DROP": {}, "CREATE": {},
	"ALTER": {}, "TRUNCATE": {}, "RENAME": {}, "REPLACE": {}, "MERGE": {},
	"GRANT": {}, "REVOKE": {}, "EXEC": {}, "EXECUTE": {}, "CALL": {}, "DO": {},
	"INTO": {}, "SET": {}, "LOCK": {}, "UNLOCK": {},
	"PRAGMA": {}, "ATTACH": {}, "DETACH": {}, "VACUUM": {}, "REINDEX": {},
	"COPY": {}, "LOAD": {}, "OUTFILE": {}, "INFILE": {}, "HANDLER": {},
	"PREPARE": {}, "DEALLOCATE": {}, "DECLARE": {}, "LISTEN": {}, "NOTIFY": {},
	"COMMIT": {}, "ROLLBACK": {}, "BEGIN": {}, "SAVEPOINT": {}, "RELEASE": {},
	// 裸 SELECT 中即可调用的写状态函数：
	// Postgres 的序列操作与 SQLite 的扩展加载。
	"NEXTVAL": {}, "SETVAL": {}, "LOAD_EXTENSION": {},
}

// validateSQL 校验 SQL 方言的候选查询。
// 接受的形状：单条以 SELECT 或 WITH 开头的语句，允许一个收尾分号。
// 校验完全基于词法单元，裸的子串匹配会被注释、大小写和嵌套表达式绕过。
func validateSQL(text string, dialect domain.Dialect) error {
	toks, err := lexSQL(text)
	if err != nil {
		// 词法歧义 → fail closed
		return reject(dialect, "无法完成词法分析: %v", err)
	}
	if len(toks) == 0 {
		return reject(dialect, "查询为空")
	}

	// 收尾分号合法，其余任何分号都意味着第二条语句
	if toks[len(toks)-1].kind == tokPunct && toks[len(toks)-1].text == ";" {
		toks = toks[:len(toks)-1]
	}
	if len(toks) == 0 {
		return reject(dialect, "查询为空")
	}
	depth := 0
	for _, tk := range toks {
		if tk.kind != tokPunct {
			continue
		}
		switch tk.text {
		case "(":
			depth++
		case ")":
			depth--
			if depth < 0 {
				return reject(dialect, "括号不匹配")
			}
		case ";":
			return reject(dialect, "不允许多条语句")
		}
	}
	if depth != 0 {
		return reject(dialect, "括号不匹配")
	}

	// 语句形状白名单：SELECT ... 或 WITH ... SELECT ...
	first := toks[0]
	if first.kind != tokWord || (first.text != "SELECT" && first.text != "WITH") {
		return reject(dialect, "仅允许以 SELECT 或 WITH 开头的只读语句")
	}
	if first.text == "WITH" {
		// CTE 最终必须落到顶层的 SELECT；找不到则拒绝
		if !withEndsInSelect(toks) {
			return reject(dialect, "WITH 语句的主体必须是 SELECT")
		}
	}

	// 禁用词扫描（仅裸词，字符串/带引号标识符天然豁免）
	for _, tk := range toks {
		if tk.kind != tokWord {
			continue
		}
		if _, bad := forbiddenSQLWords[tk.text]; bad {
			return reject(dialect, "检测到禁止的关键字: %s", tk.text)
		}
	}
	return nil
}

// withEndsInSelect 检查 WITH 语句在括号深度归零处是否出现了主体 SELECT。
func withEndsInSelect(toks []sqlToken) bool {
	depth := 0
	for i := 1; i < len(toks); i++ {
		tk := toks[i]
		if tk.kind == tokPunct {
			switch tk.text {
			case "(":
				depth++
			case ")":
				depth--
			}
			continue
		}
		if depth == 0 && tk.kind == tokWord && tk.text == "SELECT" {
			return true
		}
	}
	return false
}
