// Package pipeline assembles the ML workflow graph: profile the dataset,
// let agents configure the experiment, pause for human review, train the
// selected algorithms in parallel, pick and evaluate the best model.
package pipeline

import (
	"errors"
	"log/slog"
	"time"

	"github.com/aretw0/conduit/internal/logging"
	"github.com/aretw0/conduit/pkg/agent"
	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/graph"
	"github.com/aretw0/conduit/pkg/ports"
	"github.com/aretw0/conduit/pkg/retry"
	"github.com/aretw0/conduit/pkg/tracking"
)

// Node names.
const (
	NodeProfile       = "profile"
	NodeConfig        = "extract_config"
	NodePreprocessing = "plan_preprocessing"
	NodeAlgorithms    = "select_algorithms"
	NodeDraftReview   = "draft_review"
	NodeReview        = "review"
	NodeApplyReview   = "apply_review"
	NodeTrain         = "train"
	NodeSelect        = "select_model"
	NodeEvaluate      = "evaluate"
	NodeRegister      = "register"
	NodeReport        = "report"
)

// DefaultMonitorThreshold is the score the best model must reach to be registered.
const DefaultMonitorThreshold = 0.7

// Deps are the collaborators of the pipeline nodes.
type Deps struct {
	Agents  *agent.Invoker
	Trainer ports.Trainer
	Tracker ports.Tracker

	// TrainPolicy retries a single training branch.
	TrainPolicy retry.Policy
	// MaxParallel bounds concurrent training branches. Zero uses the engine default.
	MaxParallel int
	// NodeTimeout bounds every agent node. Zero means no limit.
	NodeTimeout time.Duration
	// MonitorThreshold defaults to DefaultMonitorThreshold.
	MonitorThreshold float64

	Logger *slog.Logger
}

func (d *Deps) defaults() {
	if d.Tracker == nil {
		d.Tracker = tracking.Nop{}
	}
	if d.TrainPolicy.MaxAttempts == 0 {
		d.TrainPolicy = retry.DefaultPolicy()
	}
	if d.MonitorThreshold <= 0 {
		d.MonitorThreshold = DefaultMonitorThreshold
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	d.Tracker = tracking.NewSafe(d.Tracker, func(op string, err error) {
		d.Logger.Warn("Tracking call failed", "op", op, "err", err)
	})
}

// Build returns the pipeline graph.
func Build(deps Deps) (*graph.Graph, error) {
	if deps.Agents == nil {
		return nil, errors.New("pipeline: an agent invoker is required")
	}
	deps.defaults()
	n := &nodes{deps: deps}

	b := graph.New()
	b.Task(NodeProfile, n.profile).
		Reads(domain.FieldTask).
		Writes(domain.FieldDatasetProfile).
		Go(NodeConfig)

	b.Task(NodeConfig, n.extractConfig).
		Reads(domain.FieldTask).
		Writes(domain.FieldPipelineConfig, domain.DecisionField(agent.ConfigAgent{}.Name())).
		Timeout(deps.NodeTimeout).
		Go(NodePreprocessing)

	b.Task(NodePreprocessing, n.planPreprocessing).
		Reads(domain.FieldPipelineConfig).
		Writes(domain.FieldPreprocessing, domain.DecisionField(agent.PreprocessingAgent{}.Name())).
		Timeout(deps.NodeTimeout).
		Go(NodeAlgorithms)

	b.Task(NodeAlgorithms, n.selectAlgorithms).
		Reads(domain.FieldPipelineConfig, domain.FieldPreprocessing).
		Writes(domain.FieldAlgorithms, domain.DecisionField(agent.AlgorithmAgent{}.Name())).
		Timeout(deps.NodeTimeout).
		Go(NodeDraftReview)

	b.Task(NodeDraftReview, n.draftReview).
		Reads(domain.FieldPipelineConfig, domain.FieldPreprocessing, domain.FieldAlgorithms).
		Writes(domain.FieldReviewQuestions, domain.DecisionField(agent.ReviewAgent{}.Name())).
		Timeout(deps.NodeTimeout).
		Go(NodeReview)

	b.Barrier(NodeReview, n.review).
		Reads(domain.FieldReviewQuestions).
		Go(NodeApplyReview)

	b.Task(NodeApplyReview, n.applyReview).
		Reads(domain.FieldPipelineConfig, domain.FieldPreprocessing, domain.FieldAlgorithms, domain.FieldReviewAnswers).
		Writes(domain.FieldTrainingPlan).
		Branch("halted", halted, NodeReport).
		Go(NodeTrain)

	b.FanOut(NodeTrain, graph.FanOut{
		Keys: n.trainKeys,
		Run:  n.train,
		Into: domain.FieldAlgorithmResults,
	}).
		Reads(domain.FieldTrainingPlan).
		Limit(deps.MaxParallel).
		Go(NodeSelect)

	b.Task(NodeSelect, n.selectModel).
		Reads(domain.FieldTrainingPlan, domain.FieldAlgorithmResults).
		Writes(domain.FieldBestModel, domain.DecisionField(agent.ModelSelectionAgent{}.Name())).
		Timeout(deps.NodeTimeout).
		Go(NodeEvaluate)

	b.Task(NodeEvaluate, n.evaluate).
		Reads(domain.FieldBestModel, domain.FieldAlgorithmResults).
		Writes(domain.FieldMonitoring).
		Branch("passed", passed, NodeRegister).
		Go(NodeReport)

	b.Task(NodeRegister, n.register).
		Reads(domain.FieldBestModel, domain.FieldAlgorithmResults).
		Writes(domain.FieldRegisteredModel).
		Go(NodeReport)

	b.Task(NodeReport, n.report)

	return b.Build()
}

// MustBuild is like Build but panics on error.
func MustBuild(deps Deps) *graph.Graph {
	g, err := Build(deps)
	if err != nil {
		panic(err)
	}
	return g
}
