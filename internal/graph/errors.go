package graph

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker-backend/internal/engine"
)

var errInternal = errors.New("internal error")

// kindCancelled marks operations abandoned by their caller.
const kindCancelled engine.Kind = "CANCELLED"

// Error carries the engine error kind to clients as extensions.code.
type Error struct {
	err  error
	kind engine.Kind
}

func (e *Error) Error() string { return e.err.Error() }

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": string(e.kind)}
}

// fail classifies err for the client. Unclassified errors are logged and
// replaced with a generic message.
func (r *Resolver) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		r.log.Debug("resolver cancelled", zap.String("op", op), zap.Error(err))
		return &Error{err: err, kind: kindCancelled}
	}
	kind := engine.KindOf(err)
	if kind == engine.KindInternal {
		r.log.Error("resolver failed", zap.String("op", op), zap.Error(err))
		return &Error{err: errInternal, kind: kind}
	}
	return &Error{err: err, kind: kind}
}
