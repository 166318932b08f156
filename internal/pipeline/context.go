package pipeline

import "context"

type runIDKey struct{}

// WithRunID 在上下文中携带本次全量运行的 ID
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom 读取运行 ID，没有时返回空串
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
