/*
Package ports defines the driven ports (interfaces) for the Conduit engine.

These interfaces decouple the executor from external implementations, allowing
the engine to work with various storage backends, model providers and training
collaborators.

# Key Interfaces

  - RunStore, CheckpointStore, ReviewStore: persistence of run records, paused
    snapshots and human review sessions (memory, file and Redis adapters).
  - DistributedLocker: distributed locking guarding resume across replicas.
  - ReasoningClient: the LLM behind every decision agent.
  - Trainer: profiles datasets and trains one algorithm per call.
  - Tracker: experiment tracking sink.
  - PromptSource: optional library of prompt templates overriding the built-in ones.
  - Controller: the control surface driven by the HTTP and MCP adapters.
*/
package ports
