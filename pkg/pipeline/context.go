package pipeline

import "context"

type runIDKey struct{}

// WithRunID はログと進捗イベントに載せる実行 ID をコンテキストに付けます。
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext は WithRunID で付けた実行 ID を返します。
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
