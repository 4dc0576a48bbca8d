/*
Package conduit is an orchestration engine for machine-learning pipelines that mix
LLM-backed decision agents, human approval and parallel training.

A run walks a directed graph of nodes over an explicit, value-typed State. Decision
agents (configuration, preprocessing, algorithm selection, review drafting, model
selection) are retried with exponential backoff and gated on their confidence; when
no acceptable answer arrives they fall back to a safe default and record that they
did. Before training, the run pauses at a review barrier behind a durable checkpoint
and resumes exactly once when a human approves or rejects it. Training fans out one
branch per algorithm and keeps the successful results when only some branches fail.

# Concept

The engine owns execution, persistence and routing; the host supplies the
collaborators behind small ports: a ReasoningClient (the LLM), a Trainer, a Tracker
and a Store. This Hexagonal Architecture lets Conduit run embedded in a Go program,
behind the HTTP control surface or as an MCP server.

# Key Features

  - Explicit State: nodes declare the fields they read and write; ownership is checked.
  - Typed agent outcomes: accepted, transient failure, parse failure and low confidence
    are distinct, and every fallback is visible in State.
  - Durable pauses: a run is AwaitingApproval only after its checkpoint is persisted.
  - Partial failure: a training branch failing never cancels its siblings.

# Usage

	eng, err := conduit.New(
		conduit.WithReasoningClient(llm.New(llm.Config{BaseURL: "http://localhost:11434/v1", Model: "llama3"})),
		conduit.WithTrainer(trainer),
	)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	runID, err := eng.Start(ctx, map[string]any{
		"task":          "Predict the sale 'price' of a house",
		"data_location": "data/houses.csv",
	})
	if err != nil {
		log.Fatal(err)
	}

	rec, err := eng.Wait(ctx, runID)
	if err != nil {
		log.Fatal(err)
	}
	if rec.Status == domain.StatusAwaitingApproval {
		review, _ := eng.Review(ctx, runID)
		for _, q := range review.Questions {
			fmt.Println(q.Text)
		}
		_ = eng.Resume(ctx, runID, domain.Approval{Approved: true})
	}
*/
package conduit
