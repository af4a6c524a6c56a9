// Package logx is notifylog's local diagnostics logger.
//
// It is a small wrapper (logx.Logger) on top of zerolog, used by the pipeline
// itself to report dropped records, failed sends and lifecycle events.
// It never writes into the pipeline's own sinks:
//   - Console output readable (short timestamp + short caller)
//   - Optional raw JSON output
//   - Level swappable at runtime through Service.Apply
package logx
