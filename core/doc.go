// Package core provides the domain types shared by every bankmesh component:
//
//   - Parts and Content (role based model payloads)
//   - Events (raw records emitted by the model runtime)
//   - Messages (the normalized conversation union: Human, AgentResponse,
//     ToolCall, ToolResult) together with Serialize and ClassifyFinish
//   - Persistence records (sessions, chat history, agent hops, tool usage,
//     registry definitions) and the small store interfaces over them
//   - ToolContext and IterationBudget used by the agent runtime
//
// Implementation concerns (SQL, model providers, routing) live in other
// packages; core only defines the contracts they meet.
package core
