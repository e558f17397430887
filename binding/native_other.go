//go:build !linux || !(amd64 || arm64)

package binding

// Native returns the binding backend of the running platform. Platforms
// without one get Unsupported.
func Native() Backend { return Unsupported() }
