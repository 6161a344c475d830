// Package llm wraps the chat completion API used to translate and summarize
// papers. The client issues single requests and classifies failures; retry
// policy lives with the caller.
package llm
