// Package safety records turns a model provider refused on content-policy
// grounds. The rejected prompt, a synthesized refusal and a failed hop are
// persisted so every user turn leaves a trace, and the refusal text is
// returned for display instead of the provider error.
package safety
