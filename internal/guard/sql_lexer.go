// file: internal/guard/sql_lexer.go
package guard

import (
	"errors"
	"strings"
	"unicode"
)

// sqlTokenKind 标识一个 SQL 词法单元的类别。
type sqlTokenKind int

const (
	tokWord   sqlTokenKind = iota // 裸标识符或关键字
	tokString                     // 单引号字符串字面量
	tokQuoted                     // 带引号的标识符 ("..." / `...` / [...])
	tokNumber
	tokPunct // 运算符与标点，单字符存放
)

type sqlToken struct {
	kind sqlTokenKind
	text string // Word 统一为大写；其余保留原文
}

var (
	errUnterminatedString  = errors.New("字符串字面量未闭合")
	errUnterminatedComment = errors.New("块注释未闭合")
	errUnterminatedQuote   = errors.New("带引号的标识符未闭合")
)

// lexSQL 把 SQL 文本切成词法单元序列。
// 注释被丢弃（其内容不参与判定，但注释不能用来隐藏关键字——
// 被注释包裹的文本根本不会成为词法单元，而拼接出的关键字会）。
// 任何无法完成的词法状态（未闭合的字符串/注释/引号）都返回错误，
// 由调用方转译为拒绝。
func lexSQL(input string) ([]sqlToken, error) {
	var toks []sqlToken
	runes := []rune(input)
	i, n := 0, len(runes)

	for i < n {
		c := runes[i]

		switch {
		case unicode.IsSpace(c):
			i++

		// 行注释: -- ... 与 MySQL 的 # ...
		case c == '-' && i+1 < n && runes[i+1] == '-', c == '#':
			for i < n && runes[i] != '\n' {
				i++
			}

		// 块注释: /* ... */，不支持嵌套
		case c == '/' && i+1 < n && runes[i+1] == '*':
			i += 2
			closed := false
			for i+1 < n {
				if runes[i] == '*' && runes[i+1] == '/' {
					i += 2
					closed = true
					break
				}
				i++
			}
			if !closed {
				return nil, errUnterminatedComment
			}

		// 单引号字符串，'' 转义
		case c == '\'':
			i++
			var sb strings.Builder
			closed := false
			for i < n {
				if runes[i] == '\'' {
					if i+1 < n && runes[i+1] == '\'' {
						sb.WriteRune('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, errUnterminatedString
			}
			toks = append(toks, sqlToken{kind: tokString, text: sb.String()})

		// 带引号的标识符: "..."、`...`、[...]
		case c == '"' || c == '`' || c == '[':
			closer := c
			if c == '[' {
				closer = ']'
			}
			i++
			var sb strings.Builder
			closed := false
			for i < n {
				if runes[i] == closer {
					// "" / `` 转义
					if closer != ']' && i+1 < n && runes[i+1] == closer {
						sb.WriteRune(closer)
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, errUnterminatedQuote
			}
			toks = append(toks, sqlToken{kind: tokQuoted, text: sb.String()})

		// 数字
		case unicode.IsDigit(c):
			start := i
			for i < n && (unicode.IsDigit(runes[i]) || runes[i] == '.' || runes[i] == 'e' || runes[i] == 'E' ||
				((runes[i] == '+' || runes[i] == '-') && (runes[i-1] == 'e' || runes[i-1] == 'E'))) {
				i++
			}
			toks = append(toks, sqlToken{kind: tokNumber, text: string(runes[start:i])})

		// 裸词：标识符或关键字
		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < n && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '$') {
				i++
			}
			toks = append(toks, sqlToken{kind: tokWord, text: strings.ToUpper(string(runes[start:i]))})

		default:
			toks = append(toks, sqlToken{kind: tokPunct, text: string(c)})
			i++
		}
	}
	return toks, nil
}
