package events

import (
	"context"
	"strings"
)

type actionFunc func(context.Context, Event) error

type actionFactory struct {
	byType map[string]actionFunc
}

func newActionFactory(onCreated, onRedispatch, onCancelled, onCompleted actionFunc) *actionFactory {
	return &actionFactory{
		byType: map[string]actionFunc{
			TypeCreated:    onCreated,
			TypeRedispatch: onRedispatch,
			TypeCancelled:  onCancelled,
			// upstream order service spells it both ways
			"canceled":    onCancelled,
			"deleted":     onCancelled,
			TypeCompleted: onCompleted,
		},
	}
}

func (f *actionFactory) get(eventType string) (actionFunc, bool) {
	eventType = strings.ToLower(strings.TrimSpace(eventType))
	fn, ok := f.byType[eventType]
	return fn, ok
}
