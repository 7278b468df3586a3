package domain

import "context"

type contextKey string

const servedDomainKey contextKey = "servedDomain"

// WithServedDomain stores the domain a request was addressed to.
func WithServedDomain(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, servedDomainKey, name)
}

// ServedDomain returns the domain stored by WithServedDomain, or "".
func ServedDomain(ctx context.Context) string {
	name, _ := ctx.Value(servedDomainKey).(string)
	return name
}
