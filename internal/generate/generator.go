// Package generate provides the client for the hosted language model along
// with prompt construction and completion decoding for the thesis workflows.
package generate

import "context"

// Request carries one prompt to a generator. Model selection happens per
// request so a single client can serve every workflow.
type Request struct {
	Model  string
	Prompt string
}

// Generator produces a completion for a prompt in a single round trip. A
// failed or malformed completion abandons the operation; callers do not
// retry.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}
