// Package server hosts the Fiber HTTP service: request id middleware, JSON
// error rendering, access logging, and the shared upstream http.Client used by
// the image engine. Route handlers live in the routes subpackage and are
// attached through AppOptions.Register so this package keeps no dependency on
// the preload bridge.
package server
