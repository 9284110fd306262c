// Package model defines the provider-agnostic abstractions for calling
// language models from the agent runtime.
//
// Core goals:
//   - One Generate interface for every provider, drained with Complete
//   - Normalize tool call representation (ToolDefinition, core.FunctionCall)
//   - Surface content-policy rejections as *PolicyError regardless of vendor
//   - Deterministic testing and offline demos through ScriptedModel
//
// Providers (model/openai, model/anthropic) implement Model so the agent
// runtime and the router stay decoupled from vendor SDKs.
package model
