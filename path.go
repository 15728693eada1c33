package dkfs

// skip returns the next path component and the remainder of path
// after it, with any run of leading or separating slashes collapsed.
// ok is false if path has no more components.
//
//	skip("a/bb/c") == ("a", "bb/c", true)
//	skip("///a/bb") == ("a", "bb", true)
//	skip("a") == ("a", "", true)
//	skip("") == ("", "", false)
func skip(path string) (name, rest string, ok bool) {
	p := 0
	for p < len(path) && path[p] == '/' {
		p++
	}
	if p == len(path) {
		return "", "", false
	}

	nameStart := p
	for p < len(path) && path[p] != '/' {
		p++
	}
	name = path[nameStart:p]

	for p < len(path) && path[p] == '/' {
		p++
	}
	return name, path[p:], true
}
