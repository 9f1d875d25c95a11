// Package resolver reports which tools a task can enter right now. It
// mirrors the handler's entry gates without mutating anything.
package resolver
