// Package engine is the Harrier facade. It binds the active threshold
// profile, the resolved capabilities and the supporting infrastructure
// (worker pool, result cache, event bus, payment history, metrics and
// tracing) to the analyzers, and exposes one method per logical operation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/capability"
	"github.com/opensource-finance/harrier/internal/deepfake"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/forensics"
	"github.com/opensource-finance/harrier/internal/imaging"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/profile"
	"github.com/opensource-finance/harrier/internal/tadp"
	"github.com/opensource-finance/harrier/internal/transaction"
	"github.com/opensource-finance/harrier/internal/voice"
	"github.com/opensource-finance/harrier/internal/worker"
)

var tracer = otel.Tracer("harrier-engine")

// PaymentHistory supplies amount history and records new payments.
type PaymentHistory interface {
	transaction.HistorySource
	Record(ctx context.Context, tenantID string, p *domain.Payment) error
}

// Config wires an Engine. Only Profiles is required.
type Config struct {
	Profiles     *profile.Manager
	Capabilities capability.Set

	Rules    transaction.RuleEvaluator
	History  PaymentHistory
	Activity transaction.ActivitySource
	Cache    domain.Cache
	Bus      domain.EventBus
	Metrics  *metrics.Recorder

	// Workers bounds concurrent CPU-bound analyses. Zero uses GOMAXPROCS.
	Workers int

	// ResultTTL is how long deterministic assessments stay cached.
	ResultTTL time.Duration

	// MaxVoiceDuration caps decoded audio.
	MaxVoiceDuration time.Duration

	Now func() time.Time
}

// Engine runs the assessments. It is safe for concurrent use.
type Engine struct {
	profiles   *profile.Manager
	caps       capability.Flags
	deepfake   *deepfake.Detector
	voice      *voice.Assessor
	validator  *transaction.Validator
	aggregator *tadp.Processor

	history   PaymentHistory
	cache     domain.Cache
	publisher *bus.Publisher
	metrics   *metrics.Recorder
	pool      *worker.Pool
	ttl       time.Duration
	now       func() time.Time
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("profile manager is required")
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = cache.DefaultResultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	pool := worker.NewPool(cfg.Workers)

	validatorCfg := transaction.Config{Rules: cfg.Rules, Now: cfg.Now}
	if cfg.History != nil {
		validatorCfg.History = cfg.History
	}
	if cfg.Activity != nil {
		validatorCfg.Activity = cfg.Activity
	}

	e := &Engine{
		profiles: cfg.Profiles,
		caps:     cfg.Capabilities.Flags,
		deepfake: deepfake.New(deepfake.Config{
			Faces:      cfg.Capabilities.Faces,
			Classifier: cfg.Capabilities.Classifier,
			FFmpegPath: cfg.Capabilities.FFmpegPath,
			Pool:       pool,
		}),
		voice:      voice.New(voice.Config{MaxDuration: cfg.MaxVoiceDuration}),
		validator:  transaction.NewValidator(validatorCfg),
		aggregator: tadp.NewProcessor(),
		history:    cfg.History,
		cache:      cfg.Cache,
		publisher:  bus.NewPublisher(cfg.Bus),
		metrics:    cfg.Metrics,
		pool:       pool,
		ttl:        cfg.ResultTTL,
		now:        cfg.Now,
	}

	e.metrics.SetProfileVersion(cfg.Profiles.Version())
	cfg.Profiles.OnChange(func(p domain.ThresholdProfile) {
		e.metrics.SetProfileVersion(p.Version)
		if e.cache != nil {
			go func(retired int64) {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				cache.PurgeVersion(ctx, e.cache, retired)
			}(p.Version - 1)
		}
	})

	return e, nil
}

// Capabilities reports the optional analyzers resolved at startup.
func (e *Engine) Capabilities() capability.Flags {
	return e.caps
}

// Profile returns the active threshold profile.
func (e *Engine) Profile() domain.ThresholdProfile {
	return e.profiles.Active()
}

// Pool exposes the worker pool for health reporting.
func (e *Engine) Pool() *worker.Pool {
	return e.pool
}

// AnalyzeImage runs forgery and edit detection on a payment screenshot,
// validates the accompanying transaction fields when any are present, and
// fuses everything into one verdict.
func (e *Engine) AnalyzeImage(ctx context.Context, tenantID string, data []byte, rec *domain.TransactionRecord) (*domain.ImageAnalysis, error) {
	start := time.Now()
	ctx, span := e.startSpan(ctx, "AnalyzeImage", tenantID)
	defer span.End()

	img, err := imaging.Decode(data)
	if err != nil {
		return nil, e.fail(span, err)
	}

	p := e.profiles.Active()
	key := cache.ResultKey("forensics", p.Version, data)
	res, ok := cache.Lookup[forensics.Result](ctx, e.cache, tenantID, key)
	if !ok {
		res, err = worker.Run(ctx, e.pool, func() (forensics.Result, error) {
			return forensics.Analyze(img, p), nil
		})
		if err != nil {
			return nil, e.fail(span, err)
		}
		cache.Store(ctx, e.cache, tenantID, key, res, e.ttl)
	}

	out := &domain.ImageAnalysis{
		Forgery: res.Forgery,
		Edit:    res.Edit,
		Width:   img.Width,
		Height:  img.Height,
		Format:  img.Format,
	}

	if !rec.IsEmpty() {
		tv, err := e.validate(ctx, tenantID, rec)
		if err != nil {
			return nil, e.fail(span, err)
		}
		out.Transaction = tv
		tadp.FuseForgery(&out.Forgery, tv)
	}

	out.Verdict = *e.aggregator.Process(ctx, &tadp.DecisionInput{
		TenantID:       tenantID,
		Transaction:    out.Transaction,
		Evidence:       []tadp.Evidence{tadp.EditEvidence(out.Edit)},
		ProfileVersion: p.Version,
	})

	slog.Info("image analyzed",
		"tenant_id", tenantID,
		"forgery_score", out.Forgery.ForgeryScore,
		"forgery_verdict", out.Forgery.Verdict,
		"edited", out.Edit.IsEdited,
		"verdict", out.Verdict.Verdict,
	)

	e.finish(ctx, span, bus.VerdictEvent{
		ID:             out.Verdict.ID,
		TenantID:       tenantID,
		Operation:      bus.OperationImage,
		Verdict:        out.Verdict.Verdict,
		Score:          out.Verdict.FraudScore,
		Confidence:     out.Verdict.Confidence,
		Indicators:     out.Verdict.Indicators,
		ProfileVersion: p.Version,
	}, start)

	return out, nil
}

// ValidateTransaction validates transaction fields on their own.
func (e *Engine) ValidateTransaction(ctx context.Context, tenantID string, rec domain.TransactionRecord) (*domain.TransactionValidation, error) {
	return e.validateAndPublish(ctx, tenantID, "", &rec)
}

// ValidateSubmission validates a transaction received from the event bus.
func (e *Engine) ValidateSubmission(ctx context.Context, tenantID string, s bus.Submission) (*domain.TransactionValidation, error) {
	return e.validateAndPublish(ctx, tenantID, s.RequestID, &s.Record)
}

func (e *Engine) validateAndPublish(ctx context.Context, tenantID, requestID string, rec *domain.TransactionRecord) (*domain.TransactionValidation, error) {
	start := time.Now()
	ctx, span := e.startSpan(ctx, "ValidateTransaction", tenantID)
	defer span.End()

	tv, err := e.validate(ctx, tenantID, rec)
	if err != nil {
		return nil, e.fail(span, err)
	}

	e.finish(ctx, span, bus.VerdictEvent{
		TenantID:       tenantID,
		RequestID:      requestID,
		Operation:      bus.OperationTransaction,
		Verdict:        tv.Verdict,
		Score:          tv.OverallRiskScore,
		Confidence:     tv.Confidence,
		Indicators:     tv.FraudIndicators,
		ProfileVersion: e.profiles.Version(),
	}, start)

	return tv, nil
}

// validate runs the validator and then records the payment, so the record
// never counts towards its own history.
func (e *Engine) validate(ctx context.Context, tenantID string, rec *domain.TransactionRecord) (*domain.TransactionValidation, error) {
	tv, err := e.validator.Validate(ctx, tenantID, rec)
	if err != nil {
		return nil, err
	}
	e.recordPayment(ctx, tenantID, rec)
	return tv, nil
}

func (e *Engine) recordPayment(ctx context.Context, tenantID string, rec *domain.TransactionRecord) {
	if e.history == nil || strings.TrimSpace(rec.PayerID) == "" {
		return
	}
	amount, err := transaction.ParseAmount(string(rec.Amount))
	if err != nil || !amount.IsPositive() {
		return
	}
	occurred := e.now().UTC()
	if t, _, err := transaction.ParseDate(rec.Date, time.UTC); err == nil && !t.After(occurred) {
		occurred = t
	}

	p := &domain.Payment{
		PayerID:    strings.TrimSpace(rec.PayerID),
		UPIID:      strings.TrimSpace(rec.UPIID),
		Reference:  strings.TrimSpace(rec.Reference),
		DeviceID:   strings.TrimSpace(rec.DeviceID),
		Amount:     amount.InexactFloat64(),
		OccurredAt: occurred,
	}
	if err := e.history.Record(ctx, tenantID, p); err != nil {
		slog.Warn("failed to record payment",
			"tenant_id", tenantID,
			"payer_id", p.PayerID,
			"error", err,
		)
	}
}

// DetectDeepfake scores an image or a video for synthetic content.
func (e *Engine) DetectDeepfake(ctx context.Context, tenantID string, data []byte, mediaType string) (*domain.DeepfakeAssessment, error) {
	start := time.Now()
	ctx, span := e.startSpan(ctx, "DetectDeepfake", tenantID)
	defer span.End()
	span.SetAttributes(attribute.String("media_type", mediaType))

	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if mediaType == "" {
		mediaType = domain.MediaImage
	}
	if len(data) == 0 {
		return nil, e.fail(span, domain.NewInputError("file", "empty media data", nil))
	}

	version := e.profiles.Version()
	key := cache.ResultKey("deepfake-"+mediaType, version, data)
	da, ok := cache.Lookup[domain.DeepfakeAssessment](ctx, e.cache, tenantID, key)
	if !ok {
		var err error
		switch mediaType {
		case domain.MediaImage:
			img, derr := imaging.Decode(data)
			if derr != nil {
				return nil, e.fail(span, derr)
			}
			da, err = worker.Run(ctx, e.pool, func() (domain.DeepfakeAssessment, error) {
				return e.deepfake.AssessImage(ctx, img), nil
			})
		case domain.MediaVideo:
			// AssessVideo takes pool slots per stage, so it must not run
			// inside one itself.
			da = e.deepfake.AssessVideo(ctx, data)
		default:
			return nil, e.fail(span, domain.NewInputError("fileType", fmt.Sprintf("unsupported media type %q", mediaType), nil))
		}
		if err != nil {
			return nil, e.fail(span, err)
		}
		if da.Verdict != domain.VerdictUnknown {
			cache.Store(ctx, e.cache, tenantID, key, da, e.ttl)
		}
	}

	slog.Info("deepfake detection complete",
		"tenant_id", tenantID,
		"media_type", mediaType,
		"score", da.Score,
		"verdict", da.Verdict,
		"methods", len(da.DetectionMethods),
	)

	e.finish(ctx, span, bus.VerdictEvent{
		TenantID:       tenantID,
		Operation:      bus.OperationDeepfake,
		Verdict:        da.Verdict,
		Score:          da.Score,
		Confidence:     da.Confidence,
		Indicators:     da.Indicators,
		ProfileVersion: version,
	}, start)

	return &da, nil
}

// DetectVoiceDeepfake scores WAV audio for synthetic voice and spam calls.
func (e *Engine) DetectVoiceDeepfake(ctx context.Context, tenantID string, data []byte) (*domain.VoiceAssessment, error) {
	start := time.Now()
	ctx, span := e.startSpan(ctx, "DetectVoiceDeepfake", tenantID)
	defer span.End()

	version := e.profiles.Version()
	key := cache.ResultKey("voice", version, data)
	va, ok := cache.Lookup[domain.VoiceAssessment](ctx, e.cache, tenantID, key)
	if !ok {
		var err error
		va, err = worker.Run(ctx, e.pool, func() (domain.VoiceAssessment, error) {
			return e.voice.Assess(ctx, data)
		})
		if err != nil {
			return nil, e.fail(span, err)
		}
		for _, m := range va.FailedMethods {
			e.metrics.AnalyzerFailed(strings.TrimSuffix(m, " (failed)"))
		}
		if va.Verdict != domain.VerdictUnknown {
			cache.Store(ctx, e.cache, tenantID, key, va, e.ttl)
		}
	}

	slog.Info("voice detection complete",
		"tenant_id", tenantID,
		"score", va.Score,
		"verdict", va.Verdict,
		"methods", len(va.DetectionMethods),
	)

	e.finish(ctx, span, bus.VerdictEvent{
		TenantID:       tenantID,
		Operation:      bus.OperationVoice,
		Verdict:        va.Verdict,
		Score:          va.Score,
		Confidence:     va.Confidence,
		Indicators:     va.Indicators,
		ProfileVersion: version,
	}, start)

	return &va, nil
}

func (e *Engine) startSpan(ctx context.Context, name, tenantID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.Int64("profile_version", e.profiles.Version()),
		),
	)
}

func (e *Engine) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// finish records metrics and publishes the verdict. A publish failure is
// logged, never returned.
func (e *Engine) finish(ctx context.Context, span trace.Span, ev bus.VerdictEvent, start time.Time) {
	span.SetAttributes(
		attribute.String("verdict", ev.Verdict),
		attribute.Float64("score", ev.Score),
	)
	e.metrics.ObserveAssessment(ev.Operation, ev.Verdict, time.Since(start))

	if err := e.publisher.Publish(ctx, ev); err != nil {
		slog.Warn("failed to publish verdict",
			"tenant_id", ev.TenantID,
			"operation", ev.Operation,
			"error", err,
		)
	}
}
