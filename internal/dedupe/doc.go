// Package dedupe tracks already-handled update keys in a time-based cache
// so redelivered updates are processed at most once within the window.
package dedupe
