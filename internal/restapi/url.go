package restapi

import "strings"

const apiSegment = "api"

// BuildURL joins base and endpoint so that exactly one "api" path segment
// separates them:
//
//   - trailing slashes on base and leading slashes on endpoint are dropped;
//   - if both sides carry the segment, the endpoint's copy is removed;
//   - if neither does, one is inserted;
//   - otherwise the two are concatenated unchanged.
//
// Any query string on endpoint is preserved. The result is stable under
// re-application: BuildURL(b, BuildURL("", e)) == BuildURL(b, e).
func BuildURL(base, endpoint string) string {
	base = strings.TrimRight(base, "/")
	path := strings.TrimLeft(endpoint, "/")

	var query string
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path, query = path[:i], path[i:]
	}

	baseHasAPI := base == apiSegment || strings.HasSuffix(base, "/"+apiSegment)
	pathHasAPI := path == apiSegment || strings.HasPrefix(path, apiSegment+"/")

	switch {
	case baseHasAPI && pathHasAPI:
		path = strings.TrimPrefix(strings.TrimPrefix(path, apiSegment), "/")
	case !baseHasAPI && !pathHasAPI:
		if path == "" {
			path = apiSegment
		} else {
			path = apiSegment + "/" + path
		}
	}

	if path == "" {
		return base + query
	}
	return base + "/" + path + query
}
