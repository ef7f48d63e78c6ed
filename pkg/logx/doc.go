// Package logx configures moyubot's structured logging.
//
// A small value-type wrapper (logx.Logger) sits on top of zerolog:
//   - Console output stays readable (short timestamp + file:line caller)
//   - File output is JSON
//   - An optional chat sink forwards warnings to an operator chat (min-level + rate limit)
package logx
