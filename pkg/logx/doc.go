// Package logx is teleube's structured logging layer on top of zerolog.
//
// Loggers derived from a Service share one root, so a config reload that
// changes the level or the log file reaches every component without
// rebuilding them. Console output is human readable; the optional file
// sink is JSON.
package logx
