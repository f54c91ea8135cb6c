// Package provider wraps the capability provider API: given a task
// description and context, it returns the provider's output along with
// token usage and timing, or a typed error on non-2xx responses.
package provider
