// Package health provides the liveness and readiness probes of the preview
// server.
//
// Probes compose with [All]. [BuildStatus] tracks the outcome of the most
// recent site build and reports not-ready until a build has succeeded and
// while the latest one has failed. [Gate] fails readiness during shutdown.
package health
