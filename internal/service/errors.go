package service

import "errors"

var (
	// ErrNoRecipients means the community has no active sendable members.
	// This is a fatal precondition, not a retryable condition: it indicates
	// the member sync job was never run for the community.
	ErrNoRecipients = errors.New("community has no sendable recipients")

	// ErrCampaignNotFound is returned when dispatch is asked to run a
	// campaign id that does not exist.
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrTokenNotFound is returned when the community has no access token.
	ErrTokenNotFound = errors.New("community access token not found")
)
