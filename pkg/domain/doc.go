/*
Package domain contains the core domain models of the Conduit engine.

It defines the value types that flow through a pipeline run and the records
the engine persists. The package is kept pure and free of I/O, following
Hexagonal Architecture principles.

# Key Entities

  - State: the immutable-per-step field map carried through the graph, plus its error/warning log.
  - Patch: the writes a node hands back to the executor.
  - RunRecord: the externally visible status of a run.
  - RunCheckpoint: the durable snapshot taken before a run awaits approval.
  - ReviewSession: the questions asked at a barrier and the human answers.
  - AgentDecision: the validated (or fallback) outcome of an agent call.
*/
package domain
