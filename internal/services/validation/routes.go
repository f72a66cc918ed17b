// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package validation

import (
	"fmt"
	"net/http"
	"strings"
)

// Route is one public endpoint: an HTTP method (or "*") and a path prefix.
type Route struct {
	Method string
	Prefix string
}

// PublicRoutes is the explicit list of endpoints reachable without a token.
type PublicRoutes []Route

var knownMethods = map[string]bool{
	"*":                true,
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// ParsePublicRoutes parses entries of the form "METHOD /prefix".
func ParsePublicRoutes(entries []string) (PublicRoutes, error) {
	routes := make(PublicRoutes, 0, len(entries))
	for _, entry := range entries {
		fields := strings.Fields(entry)
		if len(fields) != 2 {
			return nil, fmt.Errorf("public route %q: want \"METHOD /path\"", entry)
		}
		method := strings.ToUpper(fields[0])
		if !knownMethods[method] {
			return nil, fmt.Errorf("public route %q: unknown method %s", entry, fields[0])
		}
		if !strings.HasPrefix(fields[1], "/") {
			return nil, fmt.Errorf("public route %q: path must start with /", entry)
		}
		routes = append(routes, Route{Method: method, Prefix: fields[1]})
	}
	return routes, nil
}

// Match reports whether method and path hit a public route. Prefixes match
// whole path segments only: "/health" matches "/health/live" but not
// "/healthz".
func (p PublicRoutes) Match(method, path string) bool {
	for _, r := range p {
		if r.Method != "*" && r.Method != method {
			continue
		}
		prefix := strings.TrimSuffix(r.Prefix, "/")
		if path == prefix || path == r.Prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
