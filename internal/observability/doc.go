// Package observability builds the process logger and the request logging
// middleware. Every component receives a *zap.Logger through its constructor.
package observability
