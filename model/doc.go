// Package model defines the provider-agnostic interface behind the text
// backends.
//
// A Model turns one prompt (plus an optional system instruction) into one
// complete answer. There is no streaming and no tool calling: the relay
// delivers a single reply per request.
//
// Providers (Ollama, OpenAI-compatible servers such as LocalAI, Anthropic)
// live in subpackages so backend/textgen stays decoupled from vendor SDKs.
// MockModel serves tests and offline examples.
package model
