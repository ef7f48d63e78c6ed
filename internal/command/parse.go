// Package command turns chat text into subscription operations and replies.
package command

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the operation a message asks for.
type Kind int

const (
	KindQuery Kind = iota + 1
	KindStatus
	KindSetSchedule
	KindDisable
	KindDisableAll
	KindHelp
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindStatus:
		return "status"
	case KindSetSchedule:
		return "set_schedule"
	case KindDisable:
		return "disable_one"
	case KindDisableAll:
		return "disable_all"
	case KindHelp:
		return "help"
	default:
		return "unknown"
	}
}

// GroupOnly reports whether the intent only makes sense inside a group.
func (k Kind) GroupOnly() bool {
	switch k {
	case KindStatus, KindSetSchedule, KindDisable, KindDisableAll:
		return true
	}
	return false
}

type Intent struct {
	Kind   Kind
	Hour   int // KindSetSchedule only
	Minute int
}

// ErrNoMatch means the text is not addressed to this bot.
var ErrNoMatch = errors.New("not a moyu command")

// ValidationError is a recognised command with unusable arguments.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid command %q: %s", e.Input, e.Reason)
}

const keyword = "摸鱼"

// reSet needs a digit after the keyword so "settings" or "推送时间是几点" stay chat.
var (
	reStatus  = regexp.MustCompile(`(?i)^(状态|status)$`)
	reHelp    = regexp.MustCompile(`(?i)^(帮助|help)$`)
	reSet     = regexp.MustCompile(`(?i)^(设置|推送|set)\s*(\d.*)$`)
	reTime    = regexp.MustCompile(`^(\d{1,2})\s*[:：.]\s*(\d{1,2})$`)
	reDisable = regexp.MustCompile(`(?i)^(禁用|关闭|off|disable)\s*(all)?$`)
	reSlash   = regexp.MustCompile(`(?i)^/moyu(@\w+)?(\s|$)`)
)

// Parse recognises
//
//	摸鱼
//	摸鱼 状态
//	摸鱼 设置 9:30   (also 推送, and ：or . as separator)
//	摸鱼 禁用 [all]  (also 关闭)
//	摸鱼 帮助
//
// "/moyu" and "/moyu@botname" are accepted in place of 摸鱼.
func Parse(text string) (Intent, error) {
	s := strings.TrimSpace(text)
	if loc := reSlash.FindStringIndex(s); loc != nil {
		s = keyword + " " + s[loc[1]:]
	}
	rest, ok := strings.CutPrefix(s, keyword)
	if !ok {
		return Intent{}, ErrNoMatch
	}
	rest = strings.TrimSpace(rest)

	switch {
	case rest == "":
		return Intent{Kind: KindQuery}, nil
	case reStatus.MatchString(rest):
		return Intent{Kind: KindStatus}, nil
	case reHelp.MatchString(rest):
		return Intent{Kind: KindHelp}, nil
	}
	if m := reDisable.FindStringSubmatch(rest); m != nil {
		if m[2] != "" {
			return Intent{Kind: KindDisableAll}, nil
		}
		return Intent{Kind: KindDisable}, nil
	}
	if m := reSet.FindStringSubmatch(rest); m != nil {
		h, mi, err := parseTime(strings.TrimSpace(m[2]))
		if err != nil {
			return Intent{}, &ValidationError{Input: text, Reason: err.Error()}
		}
		return Intent{Kind: KindSetSchedule, Hour: h, Minute: mi}, nil
	}
	return Intent{}, ErrNoMatch
}

func parseTime(s string) (int, int, error) {
	m := reTime.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("time %q is not H:MM", s)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	if h > 23 {
		return 0, 0, fmt.Errorf("hour %d out of range 0-23", h)
	}
	if mi > 59 {
		return 0, 0, fmt.Errorf("minute %d out of range 0-59", mi)
	}
	return h, mi, nil
}
