// Package engine is the generic workflow handler: the single execution path
// for every tool. A call loads the task and its persisted record, enters or
// resumes the tool instance described by the tool's definition, applies at
// most one trigger and persists the outcome with one atomic write.
package engine
