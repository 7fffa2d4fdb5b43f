// Package agent manages the lifecycle of one remote agent and its
// conversation thread.
//
// A Session moves through the states
//
//	Uninitialized -> Created -> Ready -> Invoking -> Ready ... -> TornDown
//
// NewSession creates the remote agent, RegisterTool adds API plugins,
// Activate pushes the resulting function definitions, and Invoke runs one
// turn, continuing the thread of the previous turn. Close deletes the thread
// and the agent exactly once and releases every tool transport; callers defer
// it right after NewSession succeeds.
package agent
