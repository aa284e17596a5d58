package errs

import (
	"errors"
)

// 定义统一的错误类型
var (
	ErrInvalidParameter = errors.New("参数错误")

	ErrMalformedRule      = errors.New("规则格式错误")
	ErrRuleNotFound       = errors.New("过滤规则不存在")
	ErrPreferenceNotFound = errors.New("用户偏好不存在")

	ErrBatchConfigNotFound = errors.New("批处理配置不存在")
	ErrGrouperNotFound     = errors.New("自定义分组函数未注册")

	ErrBatchNotFound         = errors.New("批次记录不存在")
	ErrBatchDuplicate        = errors.New("批次记录主键冲突")
	ErrBatchVersionMismatch  = errors.New("批次记录版本不匹配")
	ErrBatchIDGenerateFailed = errors.New("批次ID生成失败")
	ErrPersistBatchFailed    = errors.New("批次落库失败")

	ErrDispatchFailed  = errors.New("批次投递失败")
	ErrDispatchTimeout = errors.New("批次投递超时")

	ErrEngineClosed = errors.New("引擎已停止接收新事件")
)
