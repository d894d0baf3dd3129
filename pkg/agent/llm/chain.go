package llm

import "context"

// Middleware wraps an LLMClient with additional behavior.
// Middleware should be transparent: preserve the interface contract
// while adding capabilities like retry, pacing, or metrics.
type Middleware func(next LLMClient) LLMClient

// Chain composes middlewares around a base client. The first middleware
// in the list becomes the outermost wrapper:
//
//	Chain(client, A, B, C) = A(B(C(client)))
func Chain(client LLMClient, middlewares ...Middleware) LLMClient {
	wrapped := client
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

// clientFunc adapts plain functions to the LLMClient interface, for
// middleware that only needs to intercept Complete.
type clientFunc struct {
	complete  func(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	modelName func() string
}

func (f *clientFunc) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	return f.complete(ctx, req)
}

func (f *clientFunc) GetModelName() string {
	return f.modelName()
}

// WrapClient builds an LLMClient whose Complete is the given function,
// delegating GetModelName to the wrapped client.
func WrapClient(
	next LLMClient,
	complete func(ctx context.Context, req CompletionRequest) (CompletionResponse, error),
) LLMClient {
	return &clientFunc{
		complete:  complete,
		modelName: next.GetModelName,
	}
}
