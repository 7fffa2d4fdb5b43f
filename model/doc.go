// Package model defines the provider-agnostic chat model abstraction used by
// the in-process agent service.
//
// A Model turns a conversation (instructions, contents and the function
// definitions of the registered tools) into the next assistant message. That
// message either carries text or asks for function calls; the caller executes
// the calls and asks again with the results appended.
//
// Providers (OpenAI chat completions, Anthropic messages) live in
// sub-packages so the service layer stays decoupled from vendor SDKs.
package model
