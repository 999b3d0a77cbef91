// Package log provides structured logging for the fabric via zerolog.
//
// A single package-level Logger is configured once with Init and handed
// out to components as component-scoped child loggers (WithComponent,
// WithNodeID, WithJobID, WithSubTaskID) so every log line carries enough
// context to follow a sub-task across processes without passing a logger
// through every call.
package log
