package converge

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"

	"github.com/dd0wney/cluso-pgha/pkg/logging"
)

const (
	DefaultVerifyAttempts = 10
	DefaultVerifyDelay    = 3 * time.Second
)

// Verifier polls the primary until the expected number of replicas stream.
// It holds no lock while waiting and stops when ctx is done.
type Verifier struct {
	Attempts uint
	Delay    time.Duration
	Logger   logging.Logger
}

// VerifyResult is what the last poll saw.
type VerifyResult struct {
	Want  int
	Got   int
	Polls int
}

func (v Verifier) Verify(ctx context.Context, eng Engine, want int) (VerifyResult, error) {
	res := VerifyResult{Want: want}
	attempts := v.Attempts
	if attempts == 0 {
		attempts = DefaultVerifyAttempts
	}
	logger := v.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	err := retry.Do(
		func() error {
			res.Polls++
			got, err := eng.ReplicationCount(ctx)
			if err != nil {
				logger.Debug("replication count query failed", logging.Attempt(res.Polls), logging.Error(err))
				return err
			}
			res.Got = got
			logger.Debug("replication count",
				logging.Attempt(res.Polls),
				logging.Int("streaming", got),
				logging.Int("expected", want),
			)
			if got != want {
				return fmt.Errorf("%d of %d replicas streaming", got, want)
			}
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(v.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return res, &VerificationTimeout{Want: want, Got: res.Got, Attempts: attempts, Err: err}
	}
	return res, nil
}
