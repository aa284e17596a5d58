package filter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gitee.com/flycash/notification-engine/internal/domain"
	"gitee.com/flycash/notification-engine/internal/errs"
	"github.com/gotomicro/ego/core/elog"
)

// matchCondition 单个谓词求值
// 返回错误代表条件本身有问题（规则格式错误），由调用方决定跳过整条规则
func (e *engine) matchCondition(
	ctx context.Context,
	cond domain.Condition,
	event domain.NotificationEvent,
	recipientID string,
) (bool, error) {
	switch cond.Field {
	case domain.ConditionFieldCategory:
		return matchString(string(event.Category), cond)
	case domain.ConditionFieldSender:
		return matchString(event.Sender, cond)
	case domain.ConditionFieldPriority:
		return matchInt(event.Priority, cond)
	case domain.ConditionFieldKeyword:
		return matchKeyword(event, cond)
	case domain.ConditionFieldFrequency:
		return e.matchFrequency(ctx, cond, recipientID)
	default:
		return false, fmt.Errorf("%w: 未知的条件字段 %q", errs.ErrMalformedRule, cond.Field)
	}
}

func matchString(actual string, cond domain.Condition) (bool, error) {
	switch cond.Operator {
	case domain.OperatorEquals:
		return actual == cond.Value, nil
	case domain.OperatorNotEq:
		return actual != cond.Value, nil
	case domain.OperatorContains:
		return strings.Contains(actual, cond.Value), nil
	default:
		return false, fmt.Errorf("%w: 字符串字段不支持算子 %q", errs.ErrMalformedRule, cond.Operator)
	}
}

func matchInt(actual int, cond domain.Condition) (bool, error) {
	expected, err := strconv.Atoi(cond.Value)
	if err != nil {
		return false, fmt.Errorf("%w: 数值条件的值 %q 不是整数", errs.ErrMalformedRule, cond.Value)
	}
	switch cond.Operator {
	case domain.OperatorEquals:
		return actual == expected, nil
	case domain.OperatorNotEq:
		return actual != expected, nil
	case domain.OperatorGte:
		return actual >= expected, nil
	case domain.OperatorLte:
		return actual <= expected, nil
	default:
		return false, fmt.Errorf("%w: 数值字段不支持算子 %q", errs.ErrMalformedRule, cond.Operator)
	}
}

func matchKeyword(event domain.NotificationEvent, cond domain.Condition) (bool, error) {
	if cond.Operator != domain.OperatorContains {
		return false, fmt.Errorf("%w: keyword 字段只支持 contains 算子", errs.ErrMalformedRule)
	}
	text := payloadText(event.Payload)
	return strings.Contains(strings.ToLower(text), strings.ToLower(cond.Value)), nil
}

// matchFrequency 频率条件，Value 形如 "10/5m"：窗口 5m 内达到 10 条算命中
func (e *engine) matchFrequency(ctx context.Context, cond domain.Condition, recipientID string) (bool, error) {
	if cond.Operator != domain.OperatorGte {
		return false, fmt.Errorf("%w: frequency 字段只支持 gte 算子", errs.ErrMalformedRule)
	}
	threshold, window, err := parseFrequencyValue(cond.Value)
	if err != nil {
		return false, err
	}
	count, err := e.counter.Count(ctx, recipientID, window)
	if err != nil {
		// 计数器故障按不命中处理，宁可多发不能把管道卡死
		e.logger.Warn("频率计数器不可用，频率条件按不命中处理", elog.FieldErr(err))
		return false, nil
	}
	return count >= threshold, nil
}

func parseFrequencyValue(value string) (int, time.Duration, error) {
	const parts = 2
	segs := strings.SplitN(value, "/", parts)
	if len(segs) != parts {
		return 0, 0, fmt.Errorf("%w: frequency 条件的值 %q 不符合 N/窗口 格式", errs.ErrMalformedRule, value)
	}
	threshold, err := strconv.Atoi(segs[0])
	if err != nil || threshold <= 0 {
		return 0, 0, fmt.Errorf("%w: frequency 条件的阈值 %q 非法", errs.ErrMalformedRule, segs[0])
	}
	window, err := time.ParseDuration(segs[1])
	if err != nil || window <= 0 {
		return 0, 0, fmt.Errorf("%w: frequency 条件的窗口 %q 非法", errs.ErrMalformedRule, segs[1])
	}
	return threshold, window, nil
}

// payloadText 把载荷里的字符串值拼成一段文本用于关键字匹配
func payloadText(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, v := range payload {
		switch s := v.(type) {
		case string:
			sb.WriteString(s)
			sb.WriteByte(' ')
		case fmt.Stringer:
			sb.WriteString(s.String())
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}
