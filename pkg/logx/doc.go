// Package logx configures hatbot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional chat log channel (min-level, rate limit, 1950 char cap,
//     alert mention on errors)
package logx
