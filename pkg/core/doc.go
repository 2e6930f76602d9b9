// Package core defines the shared language of the leapmesh tools.
//
// This package contains:
//   - The error taxonomy shared by the publisher, synchronizer and validator
//   - Exit code mapping used at the CLI boundary
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
