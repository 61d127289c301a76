// Package shutdown normalizes process-termination signals across
// platforms so the session loop has a single channel to watch.
package shutdown
