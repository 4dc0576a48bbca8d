/*
Package agent implements the decision agent adapter.

Each concrete agent is a capability value implementing Adapter: it builds a
prompt from its typed input, parses the model's reply into a typed decision and
knows a deterministic default. One generic driver, Invoke, runs any adapter
under the retry policy, gates the reply on confidence and falls back to the
default when the attempts are spent. Only agents without a safe default can make
Invoke fail, with *domain.AgentFailureError.
*/
package agent
