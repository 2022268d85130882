// Package types holds the shared data model of the runtime: structured
// errors with stable codes, and the chat message shapes exchanged with
// LLM providers.
package types
