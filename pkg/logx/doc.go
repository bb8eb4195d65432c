// Package logx is replaycap's structured logging layer.
//
// A thin wrapper (logx.Logger) over zerolog:
//   - console output with short timestamps and file:line callers
//   - JSON output for the log file (and for stdout when format=json)
//   - a Service that swaps sinks and level on config reload
package logx
