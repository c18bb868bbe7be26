// Package shim serves the browser-side client of the bridge.
//
// webble.js installs a navigator.bluetooth replacement that obtains a page
// token from POST /api/v1/pages, opens /api/v1/ws and speaks the
// {"key","data"} frame protocol. index.html is a small diagnostic page that
// drives requestDevice and getDevices through it.
//
// The assets are embedded with go:embed. A directory on disk can be served
// instead while iterating on the script.
package shim
