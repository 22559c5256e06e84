package aws

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/mujeresenbici/rodada/internal/store"
)

// wrapAWSError wraps AWS SDK errors with context and maps throttling and
// service failures to store sentinel errors.
func wrapAWSError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var provisionedErr *types.ProvisionedThroughputExceededException
	if errors.As(err, &provisionedErr) {
		return fmt.Errorf("%s: %w: %v", msg, store.ErrThrottled, err)
	}

	var limitErr *types.RequestLimitExceeded
	if errors.As(err, &limitErr) {
		return fmt.Errorf("%s: %w: %v", msg, store.ErrThrottled, err)
	}

	var canceledErr *types.TransactionCanceledException
	if errors.As(err, &canceledErr) {
		for _, reason := range canceledErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ThrottlingError" {
				return fmt.Errorf("%s: %w: %v", msg, store.ErrThrottled, err)
			}
		}
		return fmt.Errorf("%s: %w", msg, err)
	}

	var internalErr *types.InternalServerError
	if errors.As(err, &internalErr) {
		return fmt.Errorf("%s: %w: %v", msg, store.ErrUnavailable, err)
	}

	var notFoundErr *types.ResourceNotFoundException
	if errors.As(err, &notFoundErr) {
		return fmt.Errorf("%s: %w: %v", msg, store.ErrUnavailable, err)
	}

	// AWS SDK v2 doesn't always use typed errors for throttling
	errMsg := err.Error()
	if strings.Contains(errMsg, "ThrottlingException") ||
		strings.Contains(errMsg, "TooManyRequestsException") ||
		strings.Contains(errMsg, "Throttling") {
		return fmt.Errorf("%s: %w: %v", msg, store.ErrThrottled, err)
	}

	return fmt.Errorf("%s: %w", msg, err)
}
