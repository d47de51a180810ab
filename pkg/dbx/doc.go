// Package dbx manages transactional access to a shared pooled database
// connection. It provides a bounded connection pool with an adaptive
// warm-minimum policy and a context-scoped, reentrant transaction boundary
// over it: nested Begin calls on one context chain share the outer
// transaction, and only the outermost handle commits, rolls back, and
// releases the connection.
package dbx
