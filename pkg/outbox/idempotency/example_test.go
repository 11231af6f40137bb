package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// mapStore is an in-process stand-in for the Redis client.
type mapStore map[string]any

func (s mapStore) Get(_ context.Context, key string) (string, error) {
	return fmt.Sprint(s[key]), nil
}

func (s mapStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := s[key]; ok {
		return false, nil
	}
	s[key] = value
	return true, nil
}

func (s mapStore) IdempotencyKey(scope, id string) string {
	return "sc:idempotency:" + scope + ":" + id
}

func (s mapStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s, key)
	}
	return nil
}

func ExampleManager_Run() {
	ctx := context.Background()
	manager, _ := NewManager(mapStore{}, 7*24*time.Hour)
	eventID := uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")

	settle := func(fail bool) func(context.Context) error {
		return func(context.Context) error {
			if fail {
				return errors.New("wallet unavailable")
			}
			return nil
		}
	}

	ran, err := manager.Run(ctx, "settlement", eventID, settle(true))
	fmt.Println(ran, err)
	ran, err = manager.Run(ctx, "settlement", eventID, settle(false))
	fmt.Println(ran, err)
	ran, err = manager.Run(ctx, "settlement", eventID, settle(false))
	fmt.Println(ran, err)
	// Output:
	// true wallet unavailable
	// true <nil>
	// false <nil>
}
