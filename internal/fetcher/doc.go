// Package fetcher discovers new arXiv papers for the configured topics and
// enqueues them for processing. Papers already in the store are never
// re-enqueued, so repeated runs are safe.
package fetcher
