// Package logx configures refebot's structured logging.
//
// Logger is a small value type on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional Telegram sink (min-level + rate limiting) for operator chats
package logx
