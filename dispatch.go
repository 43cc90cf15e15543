package squarebff

import (
	"context"

	gocmd "github.com/goliatone/go-command"
)

// ExecuteWithResult validates msg, runs the command and returns the value it
// stored in the context result collector.
func ExecuteWithResult[T any, M any](
	ctx context.Context,
	execute func(context.Context, M) error,
	msg M,
) (T, error) {
	var zero T
	if err := gocmd.ValidateMessage(msg); err != nil {
		return zero, err
	}
	collector := gocmd.NewResult[T]()
	err := execute(gocmd.ContextWithResult(ctx, collector), msg)
	value, ok := collector.Load()
	if !ok {
		return zero, err
	}
	return value, err
}

// Execute validates msg and runs a command that stores no result.
func Execute[M any](ctx context.Context, execute func(context.Context, M) error, msg M) error {
	if err := gocmd.ValidateMessage(msg); err != nil {
		return err
	}
	return execute(ctx, msg)
}

// RunQuery validates msg before running the query.
func RunQuery[M any, R any](ctx context.Context, query func(context.Context, M) (R, error), msg M) (R, error) {
	if err := gocmd.ValidateMessage(msg); err != nil {
		var zero R
		return zero, err
	}
	return query(ctx, msg)
}
