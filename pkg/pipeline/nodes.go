package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/conduit/pkg/agent"
	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/retry"
)

// Registration is written by the register node.
type Registration struct {
	Name  string  `json:"name"`
	Ref   string  `json:"ref"`
	Score float64 `json:"score"`
}

type nodes struct {
	deps Deps
}

// invoker applies the per-run confidence_threshold input, if any.
func (n *nodes) invoker(s domain.State) (*agent.Invoker, error) {
	t, ok, err := domain.Decode[float64](s, domain.FieldConfidenceThreshold)
	if err != nil {
		return nil, err
	}
	if !ok {
		return n.deps.Agents, nil
	}
	return n.deps.Agents.WithThreshold(t), nil
}

func (n *nodes) profile(ctx context.Context, s domain.State) (*domain.Patch, error) {
	p := domain.NewPatch()
	loc, ok, err := domain.Decode[string](s, domain.FieldDataLocation)
	if err != nil {
		return nil, err
	}
	if !ok || loc == "" {
		return p.Info("no data location given, dataset not profiled"), nil
	}
	if n.deps.Trainer == nil {
		return p.Warn(domain.KindTransient, "no trainer configured, dataset %q not profiled", loc), nil
	}
	prof, err := n.deps.Trainer.Profile(ctx, loc)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return p.Warn(domain.KindTransient, "profiling %q failed: %v", loc, err), nil
	}
	return p.Set(domain.FieldDatasetProfile, prof), nil
}

func optionalProfile(s domain.State) (*domain.DatasetProfile, error) {
	prof, ok, err := domain.Decode[domain.DatasetProfile](s, domain.FieldDatasetProfile)
	if err != nil || !ok {
		return nil, err
	}
	return &prof, nil
}

func (n *nodes) extractConfig(ctx context.Context, s domain.State) (*domain.Patch, error) {
	task, _, err := domain.Decode[string](s, domain.FieldTask)
	if err != nil {
		return nil, err
	}
	prof, err := optionalProfile(s)
	if err != nil {
		return nil, err
	}
	inv, err := n.invoker(s)
	if err != nil {
		return nil, err
	}
	res, err := agent.Invoke(ctx, inv, agent.ConfigAgent{}, agent.ConfigInput{Task: task, Profile: prof})
	if err != nil {
		return nil, err
	}
	return decided(res.Record).Set(domain.FieldPipelineConfig, res.Decision), nil
}

func (n *nodes) planPreprocessing(ctx context.Context, s domain.State) (*domain.Patch, error) {
	cfg, _, err := domain.Decode[domain.PipelineConfig](s, domain.FieldPipelineConfig)
	if err != nil {
		return nil, err
	}
	prof, err := optionalProfile(s)
	if err != nil {
		return nil, err
	}
	inv, err := n.invoker(s)
	if err != nil {
		return nil, err
	}
	res, err := agent.Invoke(ctx, inv, agent.PreprocessingAgent{}, agent.PreprocessingInput{Config: cfg, Profile: prof})
	if err != nil {
		return nil, err
	}
	return decided(res.Record).Set(domain.FieldPreprocessing, res.Decision), nil
}

func (n *nodes) selectAlgorithms(ctx context.Context, s domain.State) (*domain.Patch, error) {
	cfg, _, err := domain.Decode[domain.PipelineConfig](s, domain.FieldPipelineConfig)
	if err != nil {
		return nil, err
	}
	pre, _, err := domain.Decode[domain.Preprocessing](s, domain.FieldPreprocessing)
	if err != nil {
		return nil, err
	}
	prof, err := optionalProfile(s)
	if err != nil {
		return nil, err
	}
	inv, err := n.invoker(s)
	if err != nil {
		return nil, err
	}
	res, err := agent.Invoke(ctx, inv, agent.AlgorithmAgent{}, agent.AlgorithmInput{Config: cfg, Preprocessing: pre, Profile: prof})
	if err != nil {
		return nil, err
	}
	return decided(res.Record).Set(domain.FieldAlgorithms, res.Decision), nil
}

func (n *nodes) draftReview(ctx context.Context, s domain.State) (*domain.Patch, error) {
	in, err := reviewInput(s)
	if err != nil {
		return nil, err
	}
	inv, err := n.invoker(s)
	if err != nil {
		return nil, err
	}
	res, err := agent.Invoke(ctx, inv, agent.ReviewAgent{}, in)
	if err != nil {
		return nil, err
	}
	return decided(res.Record).Set(domain.FieldReviewQuestions, res.Decision), nil
}

func reviewInput(s domain.State) (agent.ReviewInput, error) {
	var in agent.ReviewInput
	var err error
	if in.Config, _, err = domain.Decode[domain.PipelineConfig](s, domain.FieldPipelineConfig); err != nil {
		return in, err
	}
	if in.Preprocessing, _, err = domain.Decode[domain.Preprocessing](s, domain.FieldPreprocessing); err != nil {
		return in, err
	}
	if in.Algorithms, _, err = domain.Decode[[]string](s, domain.FieldAlgorithms); err != nil {
		return in, err
	}
	return in, nil
}

// review runs right before the pause; the questions are already in State.
func (n *nodes) review(_ context.Context, s domain.State) (*domain.Patch, error) {
	qs, _, err := domain.Decode[[]domain.Question](s, domain.FieldReviewQuestions)
	if err != nil {
		return nil, err
	}
	return domain.NewPatch().Info("awaiting approval of %d questions", len(qs)), nil
}

func (n *nodes) applyReview(ctx context.Context, s domain.State) (*domain.Patch, error) {
	in, err := reviewInput(s)
	if err != nil {
		return nil, err
	}
	answers, _, err := domain.Decode[map[string]string](s, domain.FieldReviewAnswers)
	if err != nil {
		return nil, err
	}

	p := domain.NewPatch()
	plan := domain.TrainingPlan{
		Target:        in.Config.Target,
		TaskKind:      in.Config.TaskKind,
		TestSize:      in.Config.TestSize,
		Algorithms:    in.Algorithms,
		Preprocessing: in.Preprocessing,
	}
	if answers[agent.QuestionAlgorithms] == agent.AnswerBaseline {
		plan.Algorithms = agent.Baseline(plan.TaskKind)
	}
	if v, ok := answers[agent.QuestionTestSize]; ok {
		size, err := strconv.ParseFloat(v, 64)
		if err != nil || size <= 0 || size >= 1 {
			p.Warn(domain.KindValidation, "ignoring test size answer %q", v)
		} else {
			plan.TestSize = size
		}
	}
	p.Set(domain.FieldTrainingPlan, plan)
	if stop(answers) {
		return p.Info("training declined at review"), nil
	}
	n.deps.Tracker.LogParams(ctx, domain.RunIDFrom(ctx), map[string]any{
		"target":         plan.Target,
		"task_kind":      string(plan.TaskKind),
		"test_size":      plan.TestSize,
		"algorithms":     strings.Join(plan.Algorithms, ","),
		"missing_values": plan.Preprocessing.MissingValues,
		"scaling":        plan.Preprocessing.Scaling,
		"encoding":       plan.Preprocessing.Encoding,
	})
	return p, nil
}

func stop(answers map[string]string) bool {
	return answers[agent.QuestionProceed] == "no" || answers[agent.QuestionTarget] == "no"
}

// halted routes a declined review straight to the report.
func halted(s domain.State) bool {
	answers, _, _ := domain.Decode[map[string]string](s, domain.FieldReviewAnswers)
	return stop(answers)
}

func (n *nodes) trainKeys(s domain.State) ([]string, error) {
	plan, _, err := domain.Decode[domain.TrainingPlan](s, domain.FieldTrainingPlan)
	if err != nil {
		return nil, err
	}
	return plan.Algorithms, nil
}

func (n *nodes) train(ctx context.Context, s domain.State, algorithm string) (any, error) {
	if n.deps.Trainer == nil {
		return nil, fmt.Errorf("no trainer configured")
	}
	plan, _, err := domain.Decode[domain.TrainingPlan](s, domain.FieldTrainingPlan)
	if err != nil {
		return nil, err
	}
	loc, _, err := domain.Decode[string](s, domain.FieldDataLocation)
	if err != nil {
		return nil, err
	}
	req := domain.TrainRequest{
		Algorithm:     algorithm,
		DataLocation:  loc,
		Target:        plan.Target,
		TaskKind:      plan.TaskKind,
		TestSize:      plan.TestSize,
		Preprocessing: plan.Preprocessing,
	}
	if a, ok := agent.Lookup(algorithm); ok {
		req.HyperparamGrid = a.Grid
	}

	var result domain.AlgorithmResult
	start := time.Now()
	err = retry.Do(ctx, n.deps.TrainPolicy, func(ctx context.Context, attempt int) error {
		r, err := n.deps.Trainer.Train(ctx, req)
		if err != nil {
			n.deps.Logger.Warn("Training attempt failed", "branch", algorithm, "attempt", attempt, "err", err)
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Name == "" {
		result.Name = algorithm
	}
	if result.TrainingDurationMs == 0 {
		result.TrainingDurationMs = time.Since(start).Milliseconds()
	}
	return result, nil
}

func (n *nodes) selectModel(ctx context.Context, s domain.State) (*domain.Patch, error) {
	plan, _, err := domain.Decode[domain.TrainingPlan](s, domain.FieldTrainingPlan)
	if err != nil {
		return nil, err
	}
	results, _, err := domain.Decode[[]domain.AlgorithmResult](s, domain.FieldAlgorithmResults)
	if err != nil {
		return nil, err
	}
	inv, err := n.invoker(s)
	if err != nil {
		return nil, err
	}
	res, err := agent.Invoke(ctx, inv, agent.ModelSelectionAgent{}, agent.SelectionInput{TaskKind: plan.TaskKind, Results: results})
	if err != nil {
		return nil, err
	}
	return decided(res.Record).Set(domain.FieldBestModel, res.Decision), nil
}

func bestResult(s domain.State) (domain.AlgorithmResult, error) {
	best, _, err := domain.Decode[string](s, domain.FieldBestModel)
	if err != nil {
		return domain.AlgorithmResult{}, err
	}
	results, _, err := domain.Decode[[]domain.AlgorithmResult](s, domain.FieldAlgorithmResults)
	if err != nil {
		return domain.AlgorithmResult{}, err
	}
	for _, r := range results {
		if r.Name == best {
			return r, nil
		}
	}
	return domain.AlgorithmResult{}, fmt.Errorf("best model %q has no training result", best)
}

func (n *nodes) evaluate(ctx context.Context, s domain.State) (*domain.Patch, error) {
	best, err := bestResult(s)
	if err != nil {
		return nil, err
	}
	m := domain.Monitoring{
		Model:     best.Name,
		Score:     best.CrossValidationScore,
		Threshold: n.deps.MonitorThreshold,
		Passed:    best.CrossValidationScore >= n.deps.MonitorThreshold,
	}
	metrics := map[string]float64{"cross_validation_score": best.CrossValidationScore}
	for k, v := range best.TestMetrics {
		metrics["test_"+k] = v
	}
	n.deps.Tracker.LogMetrics(ctx, domain.RunIDFrom(ctx), metrics)

	p := domain.NewPatch().Set(domain.FieldMonitoring, m)
	if !m.Passed {
		p.Warn(domain.KindDecisionQuality, "model %q scored %.4f, below the %.4f threshold", m.Model, m.Score, m.Threshold)
	}
	return p, nil
}

func passed(s domain.State) bool {
	m, _, _ := domain.Decode[domain.Monitoring](s, domain.FieldMonitoring)
	return m.Passed
}

func (n *nodes) register(ctx context.Context, s domain.State) (*domain.Patch, error) {
	best, err := bestResult(s)
	if err != nil {
		return nil, err
	}
	reg := Registration{Name: best.Name, Ref: best.TrainedModelRef, Score: best.CrossValidationScore}
	n.deps.Tracker.LogArtifact(ctx, domain.RunIDFrom(ctx), reg.Name, reg.Ref)
	return domain.NewPatch().Set(domain.FieldRegisteredModel, reg).Info("registered model %q", reg.Name), nil
}

func (n *nodes) report(_ context.Context, s domain.State) (*domain.Patch, error) {
	p := domain.NewPatch()
	if reg, ok, _ := domain.Decode[Registration](s, domain.FieldRegisteredModel); ok {
		return p.Info("pipeline finished, model %q registered (score %.4f)", reg.Name, reg.Score), nil
	}
	if m, ok, _ := domain.Decode[domain.Monitoring](s, domain.FieldMonitoring); ok {
		return p.Info("pipeline finished, model %q not registered (score %.4f < %.4f)", m.Model, m.Score, m.Threshold), nil
	}
	return p.Info("pipeline finished without training"), nil
}

// decided starts a patch carrying an agent decision record.
func decided(rec domain.AgentDecision) *domain.Patch {
	return domain.NewPatch().Set(domain.DecisionField(rec.Agent), rec)
}
