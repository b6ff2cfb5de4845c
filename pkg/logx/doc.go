// Package logx configures lightsout's structured logging.
//
// A small wrapper (logx.Logger) sits on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Level and sinks swappable at runtime (config hot reload)
package logx
