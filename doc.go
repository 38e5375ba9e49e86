// Package eventmessage is an in-process messaging kernel unifying three
// interaction patterns behind one library surface: a request/response
// Commands dispatcher (CQRS, exactly one handler per request type), a
// publish/subscribe Events bus with optional sequential transactions,
// and a Tasks background job engine with worker pools, retries,
// timeouts, and time-based progress reporting.
//
// The kernel owns no process lifecycle, speaks no wire protocol, and
// persists nothing. It consumes exactly three things from its host: a
// Resolver (see resolver.go), a zerolog.Logger, and a clock.Clock.
//
// Construction
//
//	resolver := eventmessage.ResolverFunc(func(key string) (any, error) { ... })
//	k := eventmessage.New(eventmessage.DefaultConfig(resolver, logger))
//	commands.Register[Echo, int](k.Commands, "echo")
//	events.Subscribe[OrderPlaced](k.Events, handleOrderPlaced)
//	tasks.Subscribe[ResizeImage](k.Tasks, handleResize)
//	k.Start(ctx)
//	defer k.Close()
//
// Engines
//   - Commands: github.com/zonit/eventmessage/commands
//   - Events: github.com/zonit/eventmessage/events
//   - Tasks: github.com/zonit/eventmessage/tasks (state in tasks/state)
package eventmessage
