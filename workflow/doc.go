// Package workflow implements the recipe-driven execution engine: recipes
// describe a directed graph of LLM-invoking steps, and the engine runs
// them either strictly in order (linear mode) or as a dependency graph
// with bounded parallelism (dag mode).
//
// A Recipe is loaded and validated eagerly; duplicate step ids, unknown or
// self dependencies, and dependency cycles are rejected before a run ever
// starts. Runs are submitted through a Runner, which returns a run id
// immediately and drives the recipe to a terminal result that reports
// every step's status, error kind, and attempt count.
//
// Failure handling is policy-driven: a failed step is retried with a
// fixed backoff up to its retry budget, its dependents are skipped
// transitively, and its on_failure policy decides whether the rest of the
// graph keeps launching. Step-level failures never surface as errors to
// the submitter; the run report is the outcome.
package workflow
