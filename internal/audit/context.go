package audit

import "context"

// RequestMeta is the client information captured by the HTTP layer for
// entries written on behalf of a request.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type requestMetaKey struct{}

func WithRequestMeta(ctx context.Context, m RequestMeta) context.Context {
	if m.IPAddress == "" && m.UserAgent == "" {
		return ctx
	}
	return context.WithValue(ctx, requestMetaKey{}, m)
}

func RequestMetaFromContext(ctx context.Context) RequestMeta {
	m, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return m
}
