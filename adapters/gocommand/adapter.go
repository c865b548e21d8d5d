package gocommand

import (
	"context"
	"fmt"
	"strings"
	"sync"

	authcommand "github.com/goliatone/go-authorizations/command"
	"github.com/goliatone/go-authorizations/core"
	authquery "github.com/goliatone/go-authorizations/query"
	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// Service is everything the authorization bus routes to.
type Service interface {
	authcommand.MutatingService
	authquery.Reader
}

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

// Bus registers the authorization commands and queries with a go-command
// registry and the process-wide dispatcher.
type Bus struct {
	registry   *command.Registry
	runnerOpts []runner.Option

	mu            sync.Mutex
	subscriptions []commanddispatcher.Subscription
}

func NewBus(registry *command.Registry, runnerOpts ...runner.Option) *Bus {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &Bus{registry: registry, runnerOpts: runnerOpts}
}

func (b *Bus) Registry() *command.Registry {
	if b == nil {
		return nil
	}
	return b.registry
}

// Register subscribes every authorization command and query backed by
// service. Registration is all or nothing.
func (b *Bus) Register(service Service) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if service == nil {
		return fmt.Errorf("gocommand: authorization service is required")
	}

	steps := []func() (commanddispatcher.Subscription, error){
		func() (commanddispatcher.Subscription, error) {
			return registerCommand[authcommand.InitiateMessage](b, authcommand.NewInitiateCommand(service))
		},
		func() (commanddispatcher.Subscription, error) {
			return registerCommand[authcommand.CompleteMessage](b, authcommand.NewCompleteCommand(service))
		},
		func() (commanddispatcher.Subscription, error) {
			return registerCommand[authcommand.RevokeMessage](b, authcommand.NewRevokeCommand(service))
		},
		func() (commanddispatcher.Subscription, error) {
			return registerCommand[authcommand.RefreshMessage](b, authcommand.NewRefreshCommand(service))
		},
		func() (commanddispatcher.Subscription, error) {
			return registerCommand[authcommand.HealthCheckMessage](b, authcommand.NewHealthCheckCommand(service))
		},
		func() (commanddispatcher.Subscription, error) {
			return registerQuery[authquery.GetAuthorizationMessage, core.Authorization](b, authquery.NewGetAuthorizationQuery(service))
		},
		func() (commanddispatcher.Subscription, error) {
			return registerQuery[authquery.ListAuthorizationsMessage, []core.Authorization](b, authquery.NewListAuthorizationsQuery(service))
		},
		func() (commanddispatcher.Subscription, error) {
			return registerQuery[authquery.FindDuplicatesMessage, []core.Authorization](b, authquery.NewFindDuplicatesQuery(service))
		},
	}

	added := make([]commanddispatcher.Subscription, 0, len(steps))
	for _, step := range steps {
		subscription, err := step()
		if err != nil {
			for _, sub := range added {
				sub.Unsubscribe()
			}
			return err
		}
		added = append(added, subscription)
	}

	b.mu.Lock()
	b.subscriptions = append(b.subscriptions, added...)
	b.mu.Unlock()
	return nil
}

// AddQueueResolver mirrors registered commands into a go-job queue registry
// so they can be executed by background workers.
func (b *Bus) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return b.registry.AddResolver(strings.TrimSpace(key), jobqueuecommand.QueueResolver(queueRegistry))
}

func (b *Bus) HasResolver(key string) bool {
	if b == nil || b.registry == nil {
		return false
	}
	return b.registry.HasResolver(strings.TrimSpace(key))
}

func (b *Bus) Initialize() error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return b.registry.Initialize()
}

// Close removes every dispatcher subscription made by Register.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	subscriptions := b.subscriptions
	b.subscriptions = nil
	b.mu.Unlock()
	for _, sub := range subscriptions {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// Execute dispatches msg and returns the result its command stored.
func Execute[T any, R any](ctx context.Context, msg T) (R, error) {
	var zero R
	if err := ValidateMessageContract(msg); err != nil {
		return zero, err
	}
	collector := command.NewResult[R]()
	if err := commanddispatcher.Dispatch(command.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, err
	}
	result, _ := collector.Load()
	return result, nil
}

func Dispatch[T any](ctx context.Context, msg T) error {
	if err := ValidateMessageContract(msg); err != nil {
		return err
	}
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessageContract(msg); err != nil {
		var zero R
		return zero, err
	}
	return commanddispatcher.Query[T, R](ctx, msg)
}

func registerCommand[T any](b *Bus, cmd command.Commander[T]) (commanddispatcher.Subscription, error) {
	subscription := commanddispatcher.SubscribeCommand(cmd, b.runnerOpts...)
	if err := b.registry.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// registerQuery only subscribes to the dispatcher. Queries are not mirrored
// into registry resolvers such as the job queue.
func registerQuery[T any, R any](b *Bus, qry command.Querier[T, R]) (commanddispatcher.Subscription, error) {
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	return commanddispatcher.SubscribeQuery(qry, b.runnerOpts...), nil
}
