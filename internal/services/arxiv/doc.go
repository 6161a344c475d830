// Package arxiv wraps the arXiv Atom query API.
package arxiv
