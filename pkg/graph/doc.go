/*
Package graph provides a Go DSL for constructing the directed graph of processing
nodes that the Conduit executor drives.

A graph is assembled with a fluent builder and validated once by Build: every
edge must point at a known node, nodes declare the State fields they read and
write, and the branches of a parallel node must write disjoint fields.

Example usage:

	b := graph.New()

	b.Task("profile", profile).
		Reads(domain.FieldDataLocation).
		Writes(domain.FieldDatasetProfile).
		Go("review")

	b.Barrier("review", propose).
		Writes(domain.FieldReviewQuestions).
		Go("train")

	b.FanOut("train", graph.FanOut{
		Keys: algorithms,
		Run:  trainOne,
		Into: domain.FieldAlgorithmResults,
	}).Go("evaluate")

	b.Task("evaluate", evaluate).
		Writes(domain.FieldMonitoring).
		Branch("passed", passed, "register").
		Go("report")

	g, err := b.Build()
*/
package graph
