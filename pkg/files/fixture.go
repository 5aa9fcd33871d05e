package files

import "strings"

// Fixture file extensions.
const (
	ExtInput  = "in"
	ExtStdout = "out"
	ExtStderr = "err"
)

// FixturePath returns {dir}/{name}.{ext}, adding the separator only when dir
// does not already end with one. Slash-separated paths serve both the local
// filesystem and object storage keys.
func FixturePath(dir, name, ext string) string {
	var b strings.Builder
	b.Grow(len(dir) + len(name) + len(ext) + 2)
	b.WriteString(dir)
	if !strings.HasSuffix(dir, "/") {
		b.WriteByte('/')
	}
	b.WriteString(name)
	b.WriteByte('.')
	b.WriteString(ext)
	return b.String()
}
