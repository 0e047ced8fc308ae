package plugin

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode"
)

var remotePattern = regexp.MustCompile(`^https?://`)

// Dependency references another module, either a local script by name or a
// remote script by URL. Name is always set; for remote dependencies it is
// derived from the URL unless given explicitly.
type Dependency struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
}

// IsRemote reports whether the dependency is fetched from a URL.
func (d Dependency) IsRemote() bool {
	return d.URL != ""
}

func (d Dependency) String() string {
	if d.IsRemote() {
		return d.Name + " (" + d.URL + ")"
	}
	return d.Name
}

// Local references a local script by name.
func Local(name string) Dependency {
	return Dependency{Name: name}
}

// Remote references a script at rawURL.
func Remote(rawURL string) Dependency {
	return Dependency{Name: NameFromURL(rawURL), URL: rawURL}
}

// ParseDependency turns a bare reference into a Dependency: http(s) URLs are
// remote, anything else names a local script.
func ParseDependency(ref string) Dependency {
	ref = strings.TrimSpace(ref)
	if remotePattern.MatchString(ref) {
		return Remote(ref)
	}
	return Local(ref)
}

// normalize fills a derived name for remote dependencies given without one.
func (d Dependency) normalize() Dependency {
	if d.IsRemote() && d.Name == "" {
		d.Name = NameFromURL(d.URL)
	}
	return d
}

// NameFromURL derives a module name from the last path segment of rawURL
// with its extension removed.
func NameFromURL(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	base := path.Base(p)
	if base == "/" || base == "." {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// DisplayName derives a human-readable name from an id by inserting a space
// before every capital letter: "SceneTweaks" becomes "Scene Tweaks".
func DisplayName(id string) string {
	var sb strings.Builder
	for i, r := range id {
		if i > 0 && unicode.IsUpper(r) {
			sb.WriteByte(' ')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
