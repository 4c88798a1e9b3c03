// Package internal contains the core implementation packages for tramline.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - manifest: Parses the HTML template into an ordered directive list
//   - pipeline: One typed pipeline per directive kind, content hashing,
//     external tool processes and the bounded executor
//   - assembler: Rewrites the document and stages and atomically
//     publishes the output directory
//   - build: Generation orchestrator, state machine and build metrics
//   - watcher: File system monitoring with debouncing
//   - websocket: Live-reload hub
//   - server: Development server, status page and proxy
//   - config: Configuration loading and validation
//   - errors: Error taxonomy and compiler diagnostic parsing
//   - logging, metrics, validation, version: Ambient support
//
// # Data Flow
//
// A rebuild request from the watcher starts a generation in the
// orchestrator, cancelling the one in flight. The generation parses the
// template, runs the pipelines, assembles a staging tree and publishes it;
// the live-reload hub then tells connected browsers to reload. Only the
// newest generation ever publishes or notifies.
package internal
