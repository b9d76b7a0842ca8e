package llm

import (
	"errors"
	"fmt"

	"google.golang.org/api/googleapi"

	"github.com/docsage-ai/docsage-backend/internal/core"
)

// classifyErr tags upstream failures with the error kind callers branch on.
// HTTP 429 from the API means quota, which is never worth backing off for;
// everything else stays as-is and is treated as transient by retry policies.
func classifyErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == 429 {
		return fmt.Errorf("%s: %w: %v", op, core.ErrQuota, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
