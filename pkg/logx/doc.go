// Package logx configures approvalmailer's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - The root logger swappable at runtime (config hot-reload)
package logx
