package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/crashstats/antenna/internal/crash_ingestion/crashid"
	"github.com/crashstats/antenna/internal/crash_ingestion/domain"
	"github.com/crashstats/antenna/internal/crash_ingestion/throttle"
	"github.com/crashstats/antenna/internal/metrics"
	"go.uber.org/zap"
)

const (
	// RuleAlreadyThrottled marks a crash that arrived with throttle data.
	RuleAlreadyThrottled = "ALREADY_THROTTLED"
	// RuleThrottleable0 marks a crash that asked not to be throttled.
	RuleThrottleable0 = "THROTTLEABLE_0"

	isoTimestamp = "2006-01-02T15:04:05.000000-07:00"
)

// SubmitResult is what the collector tells the client.
type SubmitResult struct {
	CrashID string
	Result  throttle.Result
	Rule    string
	Rate    int
	// Body is the text/plain response body.
	Body string
}

// Submitter throttles incoming crashes, assigns crash ids and hands accepted
// crashes to the save pipeline.
type Submitter struct {
	throttler    *throttle.Throttler
	pipeline     *Pipeline
	metrics      *metrics.Metrics
	log          *zap.Logger
	dumpIDPrefix string
	now          func() time.Time
}

func NewSubmitter(throttler *throttle.Throttler, pipeline *Pipeline, m *metrics.Metrics, log *zap.Logger, dumpIDPrefix string) *Submitter {
	return &Submitter{
		throttler:    throttler,
		pipeline:     pipeline,
		metrics:      m,
		log:          log,
		dumpIDPrefix: dumpIDPrefix,
		now:          time.Now,
	}
}

// ThrottleResult decides how raw is throttled and records the decision in
// raw. Throttle data already present in a resubmitted crash is reused when
// valid. Throttleable=0 always accepts.
func (s *Submitter) ThrottleResult(ctx context.Context, raw domain.RawCrash) (throttle.Result, string, int) {
	if _, ok := raw[domain.KeyLegacyProcessing]; ok {
		if _, ok := raw[domain.KeyThrottleRate]; ok {
			result, rate, valid := existingThrottle(raw)
			if valid {
				return result, RuleAlreadyThrottled, rate
			}
			s.metrics.Incr(ctx, "throttle.bad_throttle_values")
		}
	}

	var (
		result throttle.Result
		rule   string
		rate   int
	)
	if v, _ := raw.GetString(domain.KeyThrottleable); v == "0" {
		s.metrics.Incr(ctx, "throttleable_0")
		result, rule, rate = throttle.Accept, RuleThrottleable0, 100
	} else {
		result, rule, rate = s.throttler.Throttle(raw)
	}

	raw[domain.KeyLegacyProcessing] = int(result)
	raw[domain.KeyThrottleRate] = rate
	return result, rule, rate
}

func existingThrottle(raw domain.RawCrash) (throttle.Result, int, bool) {
	result, ok := asInt(raw[domain.KeyLegacyProcessing])
	if !ok || (throttle.Result(result) != throttle.Accept && throttle.Result(result) != throttle.Defer) {
		return 0, 0, false
	}

	rate, ok := asInt(raw[domain.KeyThrottleRate])
	if !ok || rate < 0 || rate > 100 {
		return 0, 0, false
	}

	return throttle.Result(result), rate, true
}

func asInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	default:
		return 0, false
	}
}

// Submit processes one extracted crash report. Rejected crashes are
// discarded; everything else is queued for saving and gets a crash id.
func (s *Submitter) Submit(ctx context.Context, raw domain.RawCrash, dumps domain.Dumps) (SubmitResult, error) {
	s.metrics.Incr(ctx, "incoming_crash")

	received := s.now().UTC()
	raw[domain.KeySubmittedTimestamp] = received.Format(isoTimestamp)
	raw[domain.KeyTimestamp] = float64(received.UnixNano()) / float64(time.Second)

	// Throttle before picking the crash id: the id encodes the result.
	result, rule, rate := s.ThrottleResult(ctx, raw)

	crashID := s.crashIDFor(raw, received, result)
	raw[domain.KeyTypeTag] = strings.Trim(s.dumpIDPrefix, "-")

	s.log.Info(crashID+": matched by "+rule+"; returned "+result.String(),
		zap.String("crash_id", crashID),
		zap.String("rule", rule),
		zap.String("result", result.String()),
	)

	out := SubmitResult{CrashID: crashID, Result: result, Rule: rule, Rate: rate}

	switch result {
	case throttle.Accept:
		s.metrics.Incr(ctx, "throttle.accept")
	case throttle.Defer:
		s.metrics.Incr(ctx, "throttle.defer")
	case throttle.Reject:
		s.metrics.Incr(ctx, "throttle.reject")
		out.Body = "Discarded=1"
		return out, nil
	}

	err := s.pipeline.Add(domain.CrashReport{
		RawCrash:   raw,
		Dumps:      dumps,
		CrashID:    crashID,
		ReceivedAt: received,
	})
	if err != nil {
		return out, err
	}

	out.Body = "CrashID=" + s.dumpIDPrefix + crashID + "\n"
	return out, nil
}

func (s *Submitter) crashIDFor(raw domain.RawCrash, received time.Time, result throttle.Result) string {
	if existing, ok := raw.GetString(domain.KeyUUID); ok {
		if crashid.Validate(existing) {
			s.log.Info(existing+" has existing crash_id", zap.String("crash_id", existing))
			return existing
		}
		s.log.Warn("ignoring malformed crash_id from client", zap.String("uuid", existing))
	}

	id := crashid.Create(received, int(result))
	raw[domain.KeyUUID] = id
	return id
}

// CheckHealth asks storage and the publisher for problems and adds pipeline
// depth to the report.
func (s *Submitter) CheckHealth(ctx context.Context, state *domain.HealthState) {
	s.pipeline.storage.CheckHealth(ctx, state)
	s.pipeline.publisher.CheckHealth(ctx, state)

	state.SetInfo("save_queue_size", s.pipeline.QueueSize())
	state.SetInfo("active_save_workers", s.pipeline.ActiveWorkers())
}

// HealthStats records pipeline gauges.
func (s *Submitter) HealthStats(ctx context.Context) {
	s.metrics.Gauge(ctx, "save_queue_size", int64(s.pipeline.QueueSize()))
	s.metrics.Gauge(ctx, "active_save_workers", int64(s.pipeline.ActiveWorkers()))
}
