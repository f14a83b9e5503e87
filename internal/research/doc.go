// Package research executes queued queries against an OpenRouter-compatible
// chat completion API with bounded retries for transient failures.
package research
