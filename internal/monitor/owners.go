package monitor

import (
	"context"
)

// OwnerScope lists the owners a cycle evaluates
type OwnerScope interface {
	Owners(ctx context.Context) ([]string, error)
}

// StaticOwners is a fixed owner list
type StaticOwners []string

func (s StaticOwners) Owners(ctx context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

// OwnerLister is the store query behind StoreOwners
type OwnerLister interface {
	ListOwners(ctx context.Context) ([]string, error)
}

// StoreOwners evaluates every owner that has an active, enabled alert
type StoreOwners struct {
	Store OwnerLister
}

func (s StoreOwners) Owners(ctx context.Context) ([]string, error) {
	return s.Store.ListOwners(ctx)
}
