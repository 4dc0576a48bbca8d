/*
Package observability turns engine lifecycle events into metrics and logs.

Both Metrics.Hooks and LogHooks return domain.LifecycleHooks; combine them
with LifecycleHooks.Merge and pass the result to the engine:

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	hooks := metrics.Hooks().Merge(observability.LogHooks(logger))
	eng, err := conduit.New(pipeline, conduit.WithLifecycleHooks(hooks))
*/
package observability
