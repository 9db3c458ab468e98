// Package previewhttp serves a built site from its output directory for local
// preview, with health, readiness and metrics endpoints, and rebuilds the
// site when the site config file changes.
package previewhttp
