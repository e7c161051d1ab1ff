// Package logx configures quizbot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional Telegram log chat (min-level + rate limiting)
//
// Loggers derived from a Service stay live across Service.Apply(), so a config
// reload can change level and sinks without re-plumbing components.
package logx
