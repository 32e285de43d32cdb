// Package preflight provides system validation and pre-flight checks
// to ensure the capture daemon can run successfully before starting operations.
//
// The package validates:
//   - Disk space availability (minimum 100MB)
//   - Memory availability (minimum 1GB)
//   - Write permissions in the data directory
//   - File descriptor limits (minimum 1024)
//   - Embedder host reachability and model presence (non-critical)
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, dataDir, embedderHost, embedderModel)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
