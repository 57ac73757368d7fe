package services

import (
	"context"
	"sort"
	"strings"

	"github.com/santaserver/santaserver/internal/auditctx"
)

const (
	defaultPerPage = 50
	maxPerPage     = 100
)

func normalisePage(page, perPage int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

func normaliseIDs(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

// actorRef returns the acting user id from ctx, or nil for system actions.
func actorRef(ctx context.Context) *string {
	actor, ok := auditctx.FromContext(ctx)
	if !ok || strings.TrimSpace(actor.UserID) == "" {
		return nil
	}
	id := actor.UserID
	return &id
}

func stringPtr(value string) *string {
	return &value
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func sortedStrings(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}
