package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/automaton-codesec/internal/application"
	domain "github.com/bryanwahyu/automaton-codesec/internal/domain/analysis"
)

const sideEffectTimeout = 10 * time.Second

// ServiceConfig is the per-process configuration of the pipeline.
type ServiceConfig struct {
	Model string
	Gate  GateConfig
	// EnsureScan makes the pipeline spend the tool invocation itself when the
	// model finished without calling the tool.
	EnsureScan bool
	Dedup      domain.DedupPolicy
}

// Service implements the analyze use-case. A Service is shared by concurrent
// requests; everything request-scoped (session, gate, conversation) is created
// per call.
type Service struct {
	Launcher  domain.ToolLauncher
	Loop      *Loop
	Validator *SchemaValidator
	Config    ServiceConfig
	Clock     application.Clock
	Logger    *zap.Logger

	// Ready reports missing credentials. Checked on every request.
	Ready func() error

	// Optional. Failures here never affect the response.
	Runs    domain.RunRepository
	Archive domain.PayloadArchive
}

// Analyze runs the full pipeline over one request. On error no partial report
// is returned.
func (s *Service) Analyze(ctx context.Context, req domain.Request) (domain.SecurityReport, error) {
	if err := req.Validate(); err != nil {
		return domain.SecurityReport{}, err
	}
	if s.Ready != nil {
		if err := s.Ready(); err != nil {
			return domain.SecurityReport{}, err
		}
	}

	clock := s.Clock
	if clock == nil {
		clock = application.SystemClock{}
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	start := clock.Now()
	sum := sha256.Sum256([]byte(req.Code))
	run := &domain.RunRecord{
		ID:          domain.RunID(uuid.New().String()),
		StartedAt:   start,
		InputSize:   len(req.Code),
		InputSHA256: hex.EncodeToString(sum[:]),
		Model:       s.Config.Model,
	}
	logger = logger.With(zap.String("run_id", string(run.ID)))
	logger.Info("analysis started", zap.Int("input_size", run.InputSize))

	report, err := s.analyze(ctx, req.Code, run, logger)

	elapsed := clock.Now().Sub(start)
	run.DurationMS = elapsed.Milliseconds()
	analysisLatencySeconds.Observe(elapsed.Seconds())
	if err != nil {
		run.Status = domain.RunFailed
		run.Error = err.Error()
		report = domain.SecurityReport{}
		logger.Error("analysis failed", zap.Error(err), zap.Duration("duration", elapsed))
	} else {
		logger.Info("analysis finished",
			zap.String("status", string(run.Status)),
			zap.Int("issues", len(report.Issues)),
			zap.Duration("duration", elapsed),
		)
	}
	analysesTotal.WithLabelValues(string(run.Status)).Inc()
	s.audit(ctx, run, logger)
	return report, err
}

func (s *Service) analyze(ctx context.Context, code string, run *domain.RunRecord, logger *zap.Logger) (domain.SecurityReport, error) {
	session, openErr := s.Launcher.Open(ctx)
	if errors.Is(openErr, domain.ErrConfiguration) {
		return domain.SecurityReport{}, openErr
	}
	if openErr != nil {
		logger.Warn("tool server unavailable, analysis will be model-only", zap.Error(openErr))
	}
	closeSession := func() {
		if session == nil {
			return
		}
		err := session.Close()
		session = nil
		if err != nil {
			logger.Debug("tool server close", zap.Error(err))
		}
	}
	defer closeSession()

	gate := NewGate(session, openErr, s.Config.Gate, code, logger.Named("gate"))

	conv, err := s.Loop.Run(ctx, code, gate)
	if err != nil {
		return domain.SecurityReport{}, err
	}
	if s.Config.EnsureScan && !gate.Used() {
		logger.Info("model did not run static analysis, running it before assembly")
		_, _ = gate.TryInvoke(ctx, s.Config.Gate.Capability, nil)
	}
	closeSession()

	candidate, err := s.validate(ctx, conv, logger)
	if err != nil {
		return domain.SecurityReport{}, err
	}

	outcome := gate.Outcome()
	issues := make([]domain.SecurityIssue, 0, len(candidate.Issues))
	for _, f := range candidate.Issues {
		issues = append(issues, f.Issue())
	}
	cause := outcome.Err
	if cause == nil && !outcome.Attempted && openErr != nil {
		// the tool never ran because it could not start
		cause = openErr
	}
	sc := domain.SummaryContext{InputSize: len(code), Narrative: candidate.Summary}
	run.Status = domain.RunSucceeded
	if cause != nil {
		sc.Degraded = true
		sc.DegradedReason = degradedReason(cause)
		run.Status = domain.RunDegraded
		run.DegradedReason = sc.DegradedReason
	}

	report, stats := domain.Assemble(outcome.Findings, issues, sc, s.Config.Dedup)
	run.ToolFindings = stats.ToolFindings
	run.ModelFindings = stats.AdditionalFindings
	run.Merged = stats.Merged
	findingsTotal.WithLabelValues("tool").Add(float64(stats.ToolFindings))
	findingsTotal.WithLabelValues("model").Add(float64(stats.AdditionalFindings))

	if len(outcome.Raw) > 0 {
		run.ArtifactURL = s.archive(ctx, run.ID, outcome.Raw, logger)
	}
	return report, nil
}

// validate checks the model output and allows exactly one revision.
func (s *Service) validate(ctx context.Context, conv *Conversation, logger *zap.Logger) (domain.Candidate, error) {
	candidate, err := s.Validator.Validate(conv.Output())
	if err == nil {
		return candidate, nil
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		return domain.Candidate{}, err
	}

	logger.Warn("model output rejected, requesting one revision", zap.String("violations", verr.Error()))
	raw, err := s.Loop.Revise(ctx, conv, verr.Error())
	if err != nil {
		return domain.Candidate{}, err
	}
	candidate, err = s.Validator.Validate(raw)
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("%w: %w", domain.ErrMalformedOutput, err)
	}
	return candidate, nil
}

func (s *Service) archive(ctx context.Context, id domain.RunID, raw []byte, logger *zap.Logger) string {
	if s.Archive == nil {
		return ""
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	url, err := s.Archive.Put(actx, fmt.Sprintf("runs/%s/tool-output.json", id), raw, "application/json")
	if err != nil {
		logger.Warn("failed to archive tool output", zap.Error(err))
		return ""
	}
	return url
}

func (s *Service) audit(ctx context.Context, run *domain.RunRecord, logger *zap.Logger) {
	if s.Runs == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := s.Runs.Save(actx, run); err != nil {
		logger.Warn("failed to save run record", zap.Error(err))
	}
}

func degradedReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrToolTimeout):
		return "tool timed out"
	case errors.Is(err, domain.ErrToolStartup):
		return "tool failed to start"
	case errors.Is(err, domain.ErrToolProtocol):
		return "tool protocol error"
	default:
		return "tool call aborted"
	}
}
