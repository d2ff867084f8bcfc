package vdoc

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Scheme is reserved for virtual documents.
const Scheme = "embedded-content"

// ErrNotVirtual is returned when a URI does not use Scheme.
var ErrNotVirtual = errors.New("not a virtual document uri")

// VirtualURI derives the virtual document identity for the languageID part of
// host. The mapping is deterministic, so any component can rebuild it.
//
//	file:///a.php, html -> embedded-content://html/file:%2F%2F%2Fa.php.html
func VirtualURI(host, languageID string) string {
	return fmt.Sprintf("%s://%s/%s.%s", Scheme, languageID, url.PathEscape(host), languageID)
}

// IsVirtual reports whether uri uses the virtual document scheme.
func IsVirtual(uri string) bool {
	return strings.HasPrefix(uri, Scheme+"://")
}

// Parse splits a virtual URI into its host URI and language.
func Parse(uri string) (host, languageID string, err error) {
	rest, ok := strings.CutPrefix(uri, Scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrNotVirtual, uri)
	}
	languageID, encoded, ok := strings.Cut(rest, "/")
	if !ok || languageID == "" {
		return "", "", fmt.Errorf("%w: missing language in %s", ErrNotVirtual, uri)
	}
	encoded, ok = strings.CutSuffix(encoded, "."+languageID)
	if !ok {
		return "", "", fmt.Errorf("%w: missing .%s suffix in %s", ErrNotVirtual, languageID, uri)
	}
	host, err = url.PathUnescape(encoded)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrNotVirtual, err)
	}
	return host, languageID, nil
}

// HostURI returns the host document of a virtual URI.
func HostURI(uri string) (string, error) {
	host, _, err := Parse(uri)
	return host, err
}

