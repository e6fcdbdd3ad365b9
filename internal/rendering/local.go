package rendering

import (
	"context"
	"fmt"
	"strings"
)

// LocalRenderer records a deterministic reference without producing a file.
// It backs development setups with no rendering service.
type LocalRenderer struct{}

func (LocalRenderer) Render(ctx context.Context, p Payload) (Reference, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRendering, err)
	}
	if p.DocumentNumber == "" {
		return "", fmt.Errorf("%w: document number is required", ErrRendering)
	}
	return Reference(fmt.Sprintf("local://%s/%s.pdf", p.Kind, strings.ToLower(p.DocumentNumber))), nil
}
