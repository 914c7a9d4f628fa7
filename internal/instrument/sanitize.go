package instrument

import "strings"

// Sanitize strips common wrapping artifacts from externally authored
// hook source so the remainder is a bare expression (or chunk): fenced
// code blocks and leftover export prefixes from code ported out of
// module systems.
func Sanitize(src string) string {
	s := strings.TrimSpace(src)

	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	for _, prefix := range []string{"module.exports =", "module.exports=", "export default ", "return "} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
			break
		}
	}
	return strings.TrimSuffix(s, ";")
}
