// Package reasoning runs single reasoning passes against an oracle and turns
// the raw reply into one structured decision: invoke a tool, think again, or
// conclude with an answer.
//
// The LLM oracle renders session history and the current trace as chat
// messages and fails over between configured provider profiles.
package reasoning
