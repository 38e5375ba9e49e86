package commands

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type Echo struct{ Value int }

type echoHandler struct{}

func (echoHandler) Handle(_ context.Context, req Echo) (int, error) {
	return req.Value, nil
}

type mapResolver map[string]any

func (m mapResolver) Resolve(key string) (any, func(), error) {
	h, ok := m[key]
	if !ok {
		return nil, nil, errors.New("unknown handler key: " + key)
	}
	return h, func() {}, nil
}

func TestSend_HappyPath(t *testing.T) {
	t.Parallel()

	resolver := mapResolver{"echo": echoHandler{}}
	d := New(resolver, zerolog.Nop())

	require.NoError(t, Register[Echo, int](d, "echo"))

	result, err := Send[int](context.Background(), d, Echo{Value: 42})
	require.NoError(t, err)
	require.Equal(t, 42, result)
}

func TestSend_NoHandler(t *testing.T) {
	t.Parallel()

	d := New(mapResolver{}, zerolog.Nop())

	_, err := Send[int](context.Background(), d, Echo{Value: 1})
	require.ErrorIs(t, err, ErrNoHandler)
}

func TestRegister_DuplicateHandler(t *testing.T) {
	t.Parallel()

	d := New(mapResolver{"echo": echoHandler{}}, zerolog.Nop())
	require.NoError(t, Register[Echo, int](d, "echo"))

	err := Register[Echo, int](d, "echo")
	require.ErrorIs(t, err, ErrDuplicateHandler)
}

type failingHandler struct{ cause error }

func (f failingHandler) Handle(_ context.Context, _ Echo) (int, error) {
	return 0, f.cause
}

func TestSend_HandlerErrorPropagatesVerbatim(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	resolver := mapResolver{"echo": failingHandler{cause: cause}}
	d := New(resolver, zerolog.Nop())
	require.NoError(t, Register[Echo, int](d, "echo"))

	_, err := Send[int](context.Background(), d, Echo{Value: 1})
	require.Error(t, err)

	var handlerErr *HandlerError
	require.ErrorAs(t, err, &handlerErr)
	require.ErrorIs(t, handlerErr, cause)
}

type slowHandler struct{ delay time.Duration }

func (s slowHandler) Handle(ctx context.Context, _ Echo) (int, error) {
	select {
	case <-time.After(s.delay):
		return 1, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func TestSend_CancellationRacesHandler(t *testing.T) {
	t.Parallel()

	resolver := mapResolver{"echo": slowHandler{delay: time.Second}}
	d := New(resolver, zerolog.Nop())
	require.NoError(t, Register[Echo, int](d, "echo"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Send[int](ctx, d, Echo{Value: 1})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSend_MiddlewareAppliedOutermostFirst(t *testing.T) {
	t.Parallel()

	var order []string
	trace := func(name string) Middleware[Echo, int] {
		return func(next HandlerFunc[Echo, int]) HandlerFunc[Echo, int] {
			return func(ctx context.Context, req Echo) (int, error) {
				order = append(order, name+":before")
				r, err := next(ctx, req)
				order = append(order, name+":after")
				return r, err
			}
		}
	}

	resolver := mapResolver{"echo": echoHandler{}}
	d := New(resolver, zerolog.Nop())
	require.NoError(t, Register[Echo, int](d, "echo", trace("outer"), trace("inner")))

	result, err := Send[int](context.Background(), d, Echo{Value: 7})
	require.NoError(t, err)
	require.Equal(t, 7, result)
	require.Equal(t, []string{"outer:before", "inner:before", "inner:after", "outer:after"}, order)
}

func TestSend_HandlerPanicBecomesHandlerError(t *testing.T) {
	t.Parallel()

	panicKey := "panics"
	resolver := mapResolver{panicKey: HandlerFunc[Echo, int](func(context.Context, Echo) (int, error) {
		panic("kaboom")
	})}
	d := New(resolver, zerolog.Nop())
	require.NoError(t, Register[Echo, int](d, panicKey))

	_, err := Send[int](context.Background(), d, Echo{Value: 1})
	require.Error(t, err)
	var handlerErr *HandlerError
	require.ErrorAs(t, err, &handlerErr)
}
