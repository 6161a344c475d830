// Package services provides shared plumbing for the external service
// clients: the error taxonomy that separates transient from permanent
// failures, and context annotations used for structured logging.
package services
