package observability

import "os"

// stderrWriter writes to the current os.Stderr at write time, so test
// harnesses that swap stderr still capture span output.
type stderrWriter struct{}

func (stderrWriter) Write(p []byte) (int, error) {
	return os.Stderr.Write(p)
}
