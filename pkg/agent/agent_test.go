package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/conduit/internal/testutils"
	"github.com/aretw0/conduit/pkg/adapters/memory"
	"github.com/aretw0/conduit/pkg/agent"
	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var houses = &domain.DatasetProfile{
	Location: "data/houses.csv",
	Rows:     1000,
	Columns:  []string{"price", "rooms", "sqft"},
	Types:    map[string]string{"price": "float", "rooms": "int", "sqft": "float"},
}

const priceTask = "Predict house prices from column 'price'"

func newInvoker(client *testutils.ScriptedClient, sleeper *testutils.Sleeper, opts ...agent.Option) *agent.Invoker {
	policy := retry.Policy{MaxAttempts: 3, BaseBackoff: time.Second, Sleep: sleeper.Sleep}
	return agent.NewInvoker(client, append([]agent.Option{agent.WithPolicy(policy)}, opts...)...)
}

func TestInvoke_AcceptsConfidentReply(t *testing.T) {
	client := testutils.NewScriptedClient(`{"target": "price", "task_kind": "regression", "test_size": 0.2, "validation_size": 0.1, "confidence": 0.92, "reasoning": "price is quoted"}`)
	sleeper := &testutils.Sleeper{}
	inv := newInvoker(client, sleeper)

	res, err := agent.Invoke(context.Background(), inv, agent.ConfigAgent{}, agent.ConfigInput{Task: priceTask, Profile: houses})
	require.NoError(t, err)

	assert.Equal(t, "price", res.Decision.Target)
	assert.Equal(t, domain.TaskRegression, res.Decision.TaskKind)
	assert.False(t, res.Record.UsedFallback)
	assert.Equal(t, 1, res.Record.Attempts)
	assert.InDelta(t, 0.92, res.Record.Confidence, 1e-9)
	assert.Equal(t, "price is quoted", res.Record.Reasoning)
	assert.Empty(t, sleeper.Delays())

	var decoded domain.PipelineConfig
	require.NoError(t, json.Unmarshal(res.Record.Decision, &decoded))
	assert.Equal(t, res.Decision, decoded)

	prompt, ok := inv.Transcript().Get(res.Record.PromptRef)
	require.True(t, ok)
	assert.Contains(t, prompt, priceTask)
	assert.Equal(t, agent.Ref(prompt), res.Record.PromptRef)
}

func TestInvoke_LowConfidenceFallsBack(t *testing.T) {
	client := testutils.Always(`{"target": "sqft", "task_kind": "regression", "confidence": 0.40}`)
	sleeper := &testutils.Sleeper{}
	inv := newInvoker(client, sleeper)
	in := agent.ConfigInput{Task: priceTask, Profile: houses}

	res, err := agent.Invoke(context.Background(), inv, agent.ConfigAgent{}, in)
	require.NoError(t, err)

	def, err := agent.ConfigAgent{}.DefaultDecision(in)
	require.NoError(t, err)
	assert.Equal(t, def, res.Decision)
	assert.Equal(t, "price", res.Decision.Target)
	assert.True(t, res.Record.UsedFallback)
	assert.Equal(t, 3, res.Record.Attempts)
	assert.Equal(t, 3, client.Calls())
	assert.Contains(t, res.Record.FallbackReason, "low confidence")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.Delays())
}

func TestInvoke_UnreachableClientFallsBack(t *testing.T) {
	sleeper := &testutils.Sleeper{}
	inv := newInvoker(testutils.Unreachable(), sleeper)

	res, err := agent.Invoke(context.Background(), inv, agent.PreprocessingAgent{}, agent.PreprocessingInput{Profile: houses})
	require.NoError(t, err)

	assert.True(t, res.Record.UsedFallback)
	assert.Equal(t, domain.Preprocessing{MissingValues: "median", Scaling: "standard", Encoding: "onehot"}, res.Decision)
	assert.Contains(t, res.Record.FallbackReason, "transient")
	assert.Empty(t, res.Record.ResponseRef)
	assert.Len(t, sleeper.Delays(), 2)
}

func TestInvoke_NoSafeDefault(t *testing.T) {
	inv := newInvoker(testutils.Unreachable(), &testutils.Sleeper{})

	_, err := agent.Invoke(context.Background(), inv, agent.ConfigAgent{}, agent.ConfigInput{Task: "predict something useful"})
	require.Error(t, err)

	var failure *domain.AgentFailureError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "config", failure.Agent)
	assert.Equal(t, 3, failure.Attempts)
	assert.ErrorIs(t, err, testutils.ErrUnreachable)
	assert.Equal(t, domain.KindDecisionQuality, domain.KindOf(err))
}

func TestInvoke_ThresholdIsInclusive(t *testing.T) {
	client := testutils.NewScriptedClient(`{"missing_values": "mean", "scaling": "robust", "encoding": "ordinal", "confidence": 0.70}`)
	inv := newInvoker(client, &testutils.Sleeper{})

	res, err := agent.Invoke(context.Background(), inv, agent.PreprocessingAgent{}, agent.PreprocessingInput{})
	require.NoError(t, err)
	assert.False(t, res.Record.UsedFallback)
	assert.Equal(t, "robust", res.Decision.Scaling)
}

func TestInvoke_ThresholdOverride(t *testing.T) {
	client := testutils.Always(`{"missing_values": "mean", "scaling": "robust", "encoding": "ordinal", "confidence": 0.80}`)
	inv := newInvoker(client, &testutils.Sleeper{}).WithThreshold(0.9)

	res, err := agent.Invoke(context.Background(), inv, agent.PreprocessingAgent{}, agent.PreprocessingInput{})
	require.NoError(t, err)
	assert.True(t, res.Record.UsedFallback)
	assert.Equal(t, 0.9, inv.Threshold())
}

func TestInvoke_RetriesAfterParseFailures(t *testing.T) {
	tests := []struct {
		name  string
		first string
	}{
		{name: "confidence out of range", first: `{"best": "random_forest_regressor", "confidence": 1.5}`},
		{name: "confidence missing", first: `{"best": "random_forest_regressor"}`},
		{name: "not json", first: `I think the forest wins.`},
		{name: "unknown model", first: `{"best": "xgboost", "confidence": 0.9}`},
		{name: "required key missing", first: `{"confidence": 0.9}`},
	}
	in := agent.SelectionInput{
		TaskKind: domain.TaskRegression,
		Results: []domain.AlgorithmResult{
			{Name: "linear_regression", CrossValidationScore: 0.71},
			{Name: "random_forest_regressor", CrossValidationScore: 0.84},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testutils.NewScriptedClient(tt.first, `{"best": "linear_regression", "confidence": 0.75}`)
			sleeper := &testutils.Sleeper{}
			inv := newInvoker(client, sleeper)

			res, err := agent.Invoke(context.Background(), inv, agent.ModelSelectionAgent{}, in)
			require.NoError(t, err)
			assert.Equal(t, "linear_regression", res.Decision)
			assert.Equal(t, 2, res.Record.Attempts)
			assert.False(t, res.Record.UsedFallback)
			assert.Equal(t, []time.Duration{time.Second}, sleeper.Delays())
		})
	}
}

func TestInvoke_FencedReply(t *testing.T) {
	reply := "Here is my answer:\n```json\n{\"algorithms\": [\"ridge_regression\", \"ridge_regression\", \"linear_regression\"], \"confidence\": 0.8}\n```\nGood luck."
	inv := newInvoker(testutils.NewScriptedClient(reply), &testutils.Sleeper{})
	in := agent.AlgorithmInput{Config: domain.PipelineConfig{Target: "price", TaskKind: domain.TaskRegression}}

	res, err := agent.Invoke(context.Background(), inv, agent.AlgorithmAgent{}, in)
	require.NoError(t, err)
	assert.Equal(t, []string{"ridge_regression", "linear_regression"}, res.Decision)
}

func TestInvoke_PromptOverride(t *testing.T) {
	client := testutils.NewScriptedClient(`{"target": "price", "confidence": 0.9}`)
	prompts := memory.NewPrompts(map[string]string{
		"config": "Task: {{.Task}} | columns: {{join .Profile.Columns \",\"}}",
	})
	inv := newInvoker(client, &testutils.Sleeper{}, agent.WithPrompts(prompts))

	res, err := agent.Invoke(context.Background(), inv, agent.ConfigAgent{}, agent.ConfigInput{Task: priceTask, Profile: houses})
	require.NoError(t, err)
	assert.Equal(t, []string{"Task: " + priceTask + " | columns: price,rooms,sqft"}, client.Prompts())
	assert.Equal(t, domain.TaskRegression, res.Decision.TaskKind, "omitted task kind is inferred")
}

func TestInvoke_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inv := newInvoker(testutils.Unreachable(), &testutils.Sleeper{})

	_, err := agent.Invoke(ctx, inv, agent.PreprocessingAgent{}, agent.PreprocessingInput{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestInvoke_DeadlineFallsBack(t *testing.T) {
	blocking := func(ctx context.Context, _ time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	}
	inv := agent.NewInvoker(testutils.Unreachable(), agent.WithPolicy(retry.Policy{MaxAttempts: 3, BaseBackoff: time.Second, Sleep: blocking}))

	t.Run("during backoff", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		res, err := agent.Invoke(ctx, inv, agent.PreprocessingAgent{}, agent.PreprocessingInput{})
		require.NoError(t, err)
		assert.True(t, res.Record.UsedFallback)
		assert.Equal(t, 1, res.Record.Attempts)
		assert.Equal(t, domain.Preprocessing{MissingValues: "median", Scaling: "standard", Encoding: "onehot"}, res.Decision)
	})

	t.Run("before the first attempt", func(t *testing.T) {
		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()

		res, err := agent.Invoke(ctx, inv, agent.PreprocessingAgent{}, agent.PreprocessingInput{})
		require.NoError(t, err)
		assert.True(t, res.Record.UsedFallback)
		assert.Zero(t, res.Record.Attempts)
		assert.Contains(t, res.Record.FallbackReason, "deadline")
	})
}

func TestInvoke_PromptErrorIsNotRetried(t *testing.T) {
	client := testutils.Always(`{}`)
	inv := newInvoker(client, &testutils.Sleeper{})

	_, err := agent.Invoke(context.Background(), inv, agent.ConfigAgent{}, agent.ConfigInput{Task: "  "})
	require.Error(t, err)
	assert.Zero(t, client.Calls())
}
