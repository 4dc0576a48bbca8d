package agent

import (
	"sort"

	"github.com/aretw0/conduit/pkg/domain"
)

// Algorithm is a catalogue entry the training collaborator knows how to fit.
type Algorithm struct {
	Name     string
	TaskKind domain.TaskKind
	Baseline bool
	Grid     map[string][]any
}

var catalogue = []Algorithm{
	{Name: "logistic_regression", TaskKind: domain.TaskClassification, Baseline: true, Grid: map[string][]any{"C": {0.1, 1.0, 10.0}}},
	{Name: "random_forest_classifier", TaskKind: domain.TaskClassification, Baseline: true, Grid: map[string][]any{"n_estimators": {100, 300}, "max_depth": {nil, 10}}},
	{Name: "gradient_boosting_classifier", TaskKind: domain.TaskClassification, Baseline: true, Grid: map[string][]any{"learning_rate": {0.05, 0.1}, "n_estimators": {100, 200}}},
	{Name: "svm_classifier", TaskKind: domain.TaskClassification, Grid: map[string][]any{"C": {0.1, 1.0}, "kernel": {"rbf", "linear"}}},
	{Name: "knn_classifier", TaskKind: domain.TaskClassification, Grid: map[string][]any{"n_neighbors": {3, 5, 11}}},
	{Name: "linear_regression", TaskKind: domain.TaskRegression, Baseline: true, Grid: map[string][]any{}},
	{Name: "random_forest_regressor", TaskKind: domain.TaskRegression, Baseline: true, Grid: map[string][]any{"n_estimators": {100, 300}, "max_depth": {nil, 10}}},
	{Name: "gradient_boosting_regressor", TaskKind: domain.TaskRegression, Baseline: true, Grid: map[string][]any{"learning_rate": {0.05, 0.1}, "n_estimators": {100, 200}}},
	{Name: "ridge_regression", TaskKind: domain.TaskRegression, Grid: map[string][]any{"alpha": {0.1, 1.0, 10.0}}},
	{Name: "knn_regressor", TaskKind: domain.TaskRegression, Grid: map[string][]any{"n_neighbors": {3, 5, 11}}},
}

// Catalogue returns the algorithms available for a task kind, sorted by name.
func Catalogue(kind domain.TaskKind) []Algorithm {
	var out []Algorithm
	for _, a := range catalogue {
		if a.TaskKind == kind {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Baseline returns the names of the baseline algorithms of a task kind, sorted.
func Baseline(kind domain.TaskKind) []string {
	var out []string
	for _, a := range Catalogue(kind) {
		if a.Baseline {
			out = append(out, a.Name)
		}
	}
	return out
}

// Lookup finds an algorithm by name.
func Lookup(name string) (Algorithm, bool) {
	for _, a := range catalogue {
		if a.Name == name {
			return a, true
		}
	}
	return Algorithm{}, false
}
