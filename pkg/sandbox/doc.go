// Package sandbox runs untrusted commands for code-executing tools.
//
// Every execution gets a fresh scratch directory that is removed afterwards,
// a wall-clock ceiling and capped output. RuntimeDocker additionally cuts
// network access and limits memory, CPU and process count.
package sandbox
