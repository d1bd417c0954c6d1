package models

import "errors"

var (
	// ErrConfiguration is raised before any fetch when a feed cannot be set up,
	// for example when a provider credential is missing.
	ErrConfiguration = errors.New("configuration error")

	// ErrInitialLoad marks a failed first page or subscription start.
	ErrInitialLoad = errors.New("initial load failed")

	// ErrSubscription marks an error reported by a live subscription.
	ErrSubscription = errors.New("subscription error")

	// ErrLoadMore marks a failed follow-up page. State is left untouched.
	ErrLoadMore = errors.New("load more failed")

	// ErrSuperseded is returned to callers whose operation completed after a
	// newer refresh or an unsubscribe.
	ErrSuperseded = errors.New("superseded by a newer generation")

	ErrNotFound = errors.New("not found")
)
