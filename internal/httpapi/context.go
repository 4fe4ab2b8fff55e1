package httpapi

import "context"

type correlationIDKeyType struct{}
type apiKeyKeyType struct{}

var (
	correlationIDKey = correlationIDKeyType{}
	apiKeyContextKey = apiKeyKeyType{}
)

func withCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

func correlationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

func withAPIKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, apiKeyContextKey, key)
}

func apiKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(apiKeyContextKey).(string)
	return key
}
