package writer

import (
	"errors"
	"net/http"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// backoff is exponential from InitialBackoff, capped at MaximumBackoff, for
// MaxAttempts calls in total. A fresh value is needed per insert.
func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.InitialBackoff)
	b = retry.WithCappedDuration(p.MaximumBackoff, b)
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

var retryableHTTP = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusRequestTimeout:      true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var retryableGRPC = map[codes.Code]bool{
	codes.Aborted:           true,
	codes.DeadlineExceeded:  true,
	codes.Internal:          true,
	codes.ResourceExhausted: true,
	codes.Unavailable:       true,
}

// retryable reports whether err is transient. Batch errors are retryable only
// when every member is.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		return allRetryable(len(multi), func(i int) error { return multi[i] })
	}
	var putErr cbigquery.PutMultiError
	if errors.As(err, &putErr) {
		return allRetryable(len(putErr), func(i int) error { return putErr[i].Errors })
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return retryableHTTP[apiErr.Code]
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return retryableGRPC[st.Code()]
	}
	return false
}

func allRetryable(n int, at func(int) error) bool {
	if n == 0 {
		return false
	}
	for i := 0; i < n; i++ {
		if !retryable(at(i)) {
			return false
		}
	}
	return true
}
