package command

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// 输入来源
const (
	SourceText   = "text"
	SourceSpeech = "speech"
)

const defaultMaxLength = 500

// Input 原始用户输入；speech 为已转写的文本
type Input struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// Goal 归一化后的目标
type Goal struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// InputError 输入为空或不合法；不会启动 Session
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return "invalid input: " + e.Reason
}

// Interpreter 把原始输入归一化为目标文本，不做领域校验
type Interpreter struct {
	maxLength int
}

// NewInterpreter 创建 Interpreter；maxLength <= 0 时使用默认 500 字符
func NewInterpreter(maxLength int) *Interpreter {
	if maxLength <= 0 {
		maxLength = defaultMaxLength
	}
	return &Interpreter{maxLength: maxLength}
}

// Interpret 去除控制字符、压缩空白；空输入、超长输入或未知来源返回 *InputError
func (i *Interpreter) Interpret(in Input) (Goal, error) {
	source := strings.ToLower(strings.TrimSpace(in.Source))
	switch source {
	case "":
		source = SourceText
	case SourceText, SourceSpeech:
	default:
		return Goal{}, &InputError{Reason: fmt.Sprintf("unknown source %q", in.Source)}
	}
	if !utf8.ValidString(in.Text) {
		return Goal{}, &InputError{Reason: "text is not valid UTF-8"}
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, in.Text)
	text := strings.Join(strings.Fields(cleaned), " ")

	if text == "" {
		return Goal{}, &InputError{Reason: "empty goal"}
	}
	if n := utf8.RuneCountInString(text); n > i.maxLength {
		return Goal{}, &InputError{Reason: fmt.Sprintf("goal too long (%d > %d characters)", n, i.maxLength)}
	}
	return Goal{Text: text, Source: source}, nil
}
