// Package runner drives a complete tool-augmented conversation from a
// config.Config.
//
// A run proceeds strictly in order:
//   - bind one transport per authenticated plugin and resolve the per-call
//     override token (no remote call happens if a token is missing)
//   - load every API description
//   - acquire the agent service credential
//   - create the agent and register the tools
//   - run the configured turns, printing the transcript
//   - delete the thread and the agent
//
// The last step runs whenever the agent was created, regardless of how the
// turns ended. ExitCode maps the returned error to a process exit status.
package runner
