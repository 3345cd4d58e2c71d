// Package metrics buffers gateway and webhook metrics and ships them to CloudWatch.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/aws"
	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
	"github.com/imrishuroy/go-cardpay-gateway/internal/transport"
)

// PutMetricData accepts at most this many datums per call.
const maxDatumsPerCall = 1000

// Recorder implements transport.Observer on top of CloudWatch.
// Datums are buffered in memory until Flush.
type Recorder struct {
	mu        sync.Mutex
	cw        aws.CloudWatchAPI
	namespace string
	buf       []cwtypes.MetricDatum
	log       *logging.Logger
	nowFunc   func() time.Time
}

var _ transport.Observer = (*Recorder)(nil)

func NewRecorder(cw aws.CloudWatchAPI, namespace string, lg *logging.Logger) *Recorder {
	return &Recorder{cw: cw, namespace: namespace, log: lg, nowFunc: time.Now}
}

func (r *Recorder) add(d cwtypes.MetricDatum) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d.Timestamp = awsTime(r.nowFunc())
	r.buf = append(r.buf, d)
}

func dims(kv ...string) []cwtypes.Dimension {
	out := make([]cwtypes.Dimension, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, cwtypes.Dimension{Name: awsString(kv[i]), Value: awsString(kv[i+1])})
	}
	return out
}

// ObserveAttempt records latency and outcome of one gateway attempt.
func (r *Recorder) ObserveAttempt(method string, status int, latency time.Duration, err error) {
	outcome := statusClass(status)
	if err != nil {
		if code := apperr.CodeOf(err); code != "" {
			outcome = code
		} else {
			outcome = "ERROR"
		}
	}
	r.add(cwtypes.MetricDatum{
		MetricName: awsString("GatewayLatency"),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Value:      awsFloat(float64(latency.Milliseconds())),
		Dimensions: dims("Method", method),
	})
	r.add(cwtypes.MetricDatum{
		MetricName: awsString("GatewayAttempts"),
		Unit:       cwtypes.StandardUnitCount,
		Value:      awsFloat(1),
		Dimensions: dims("Method", method, "Outcome", outcome),
	})
}

// ObserveBreaker counts circuit breaker transitions.
func (r *Recorder) ObserveBreaker(from, to transport.State) {
	r.add(cwtypes.MetricDatum{
		MetricName: awsString("CircuitBreakerTransition"),
		Unit:       cwtypes.StandardUnitCount,
		Value:      awsFloat(1),
		Dimensions: dims("From", string(from), "To", string(to)),
	})
}

// Count adds one to a named counter, e.g. webhook outcomes.
func (r *Recorder) Count(name string, kv ...string) {
	r.add(cwtypes.MetricDatum{
		MetricName: awsString(name),
		Unit:       cwtypes.StandardUnitCount,
		Value:      awsFloat(1),
		Dimensions: dims(kv...),
	})
}

// Pending is the number of buffered datums.
func (r *Recorder) Pending() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Flush sends buffered datums. Datums of a failed batch are put back so the
// next flush retries them.
func (r *Recorder) Flush(ctx context.Context) error {
	if r == nil || r.cw == nil {
		return nil
	}
	r.mu.Lock()
	pending := r.buf
	r.buf = nil
	r.mu.Unlock()

	for start := 0; start < len(pending); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(pending))
		_, err := r.cw.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  &r.namespace,
			MetricData: pending[start:end],
		})
		if err != nil {
			r.mu.Lock()
			r.buf = append(pending[start:], r.buf...)
			r.mu.Unlock()
			return fmt.Errorf("put metric data: %w", err)
		}
	}
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (r *Recorder) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := r.Flush(context.WithoutCancel(ctx)); err != nil {
				r.log.Warn(ctx, logging.FlagTransport, "metrics.flush", "final metrics flush failed", map[string]any{"error": err})
			}
			return
		case <-t.C:
			if err := r.Flush(ctx); err != nil {
				r.log.Warn(ctx, logging.FlagTransport, "metrics.flush", "metrics flush failed", map[string]any{"error": err})
			}
		}
	}
}

func statusClass(status int) string {
	if status <= 0 {
		return "NONE"
	}
	return strconv.Itoa(status/100) + "XX"
}

func awsString(s string) *string { return &s }

func awsFloat(f float64) *float64 { return &f }

func awsTime(t time.Time) *time.Time { return &t }
