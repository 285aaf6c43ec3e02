package sandbox

import "os"

// tempDir returns the OS temp directory used for argument-spillage files and
// other sandboxed scratch space (§4.4, §5).
func tempDir() string { return os.TempDir() }
