// Package internal contains the core implementation packages for packager.
//
// # Package Organization
//
//   - bundle: Bundle options, URL parsing and the Builder interface
//   - build: Bundle cache with shared in-flight builds, esbuild builder, metrics
//   - invalidation: Routes file changes to the cache, builder and clients
//   - notify: Long-poll change notification hub
//   - watcher: File system monitoring with debouncing
//   - assets: Asset resolution and range-aware responses
//   - symbolicate: Stack trace rewriting through source maps
//   - server: HTTP routing, hot reloading and middleware
//   - config, logging, errors, version: Ambient support
//
// # Request Flow
//
// A bundle request is parsed into bundle.Options whose cache key selects a
// build.Future; concurrent requests for the same key wait on one build. The
// watcher feeds invalidation.Tracker, which marks every cached bundle stale
// and wakes long-polling clients, or forwards the change to a connected hot
// reloading client while one is attached.
package internal
