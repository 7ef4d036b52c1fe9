package notify

import (
	"context"

	"github.com/d60-Lab/casa-followups/internal/model"
)

// Dispatcher 派发跟进创建/解决事件。
// 调用方不等待结果：失败只记录日志并上报，不返回错误，也不回滚触发它的状态变更。
type Dispatcher interface {
	NotifyCreated(ctx context.Context, f *model.Followup, createdBy string)
	NotifyResolved(ctx context.Context, f *model.Followup, createdBy string)
}

// NopDispatcher 丢弃所有事件
type NopDispatcher struct{}

func (NopDispatcher) NotifyCreated(context.Context, *model.Followup, string)  {}
func (NopDispatcher) NotifyResolved(context.Context, *model.Followup, string) {}
