// Package core defines the domain types and small interfaces shared by the
// toolmesh packages:
//
//   - Content / Part values exchanged with models and remote agent services
//   - Fragment and FragmentStream, the lazy per-turn response sequence
//   - AgentService, the boundary to the remote agent host (create agent,
//     invoke, delete thread, delete agent)
//   - ToolExecutor and ToolContext, the surface tools run against
//   - Sentinel errors for the setup and invocation failure taxonomy
//
// Concrete services live in service/..., tool dispatch in tool, and the
// session lifecycle in agent.
package core
