// Package database validates named database connection configurations
// against per-driver schemas and wires them into Bun connections with
// their configuration, middlewares and optional debug instrumentation.
package database
