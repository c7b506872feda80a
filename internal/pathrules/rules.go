// Package pathrules collapses raw page paths from an export onto canonical
// page keys. Rules run in table order and each one sees the output of the
// previous rule.
package pathrules

import (
	"strings"
)

const (
	// MaxLength of a raw path before the length cap kicks in.
	MaxLength = 511
	// capEnd is the exclusive end (in characters) of the kept slice.
	capEnd = 510
)

// Page is the value threaded through the rule chain.
type Page struct {
	Path    string
	Project *string
}

// Rule mutates p in place. Apply must be deterministic.
type Rule struct {
	Name  string
	Apply func(site string, p *Page)
}

// RuleSet is an ordered, versioned rule list.
type RuleSet struct {
	Version string
	Rules   []Rule
}

// Normalize runs every rule against raw and returns the canonical page and
// the project tag, if any rule assigned one.
func (rs *RuleSet) Normalize(site, raw string) (string, *string) {
	p := Page{Path: raw}
	for _, r := range rs.Rules {
		r.Apply(site, &p)
	}
	return p.Path, p.Project
}

// Default is the rule set used for standard exports.
var Default = &RuleSet{
	Version: "2014.1",
	Rules: []Rule{
		{Name: "cap-length", Apply: capLength},
		{Name: "strip-query", Apply: stripQuery},
		{Name: "strip-document-suffix", Apply: stripDocumentSuffix},
		{Name: "legacy-alias", Apply: legacyAlias},
		{Name: "download-tool-prefix", Apply: downloadToolPrefix},
		{Name: "trailing-slash", Apply: trailingSlash},
		{Name: "site-project-tags", Apply: siteProjectTags},
	},
}

func capLength(_ string, p *Page) {
	r := []rune(p.Path)
	if len(r) > MaxLength {
		p.Path = string(r[1:capEnd])
	}
}

func stripQuery(_ string, p *Page) {
	if i := strings.IndexAny(p.Path, "?#"); i >= 0 {
		p.Path = p.Path[:i]
	}
}

// stripDocumentSuffix drops trailing slashes, an "index.html" last segment
// and ".html" until none of them applies, so "/a/index.html" and "/a.html/"
// both end up as "/a". "/reindex.html" keeps its name.
func stripDocumentSuffix(_ string, p *Page) {
	for {
		before := p.Path
		p.Path = trimSlashes(p.Path)
		if p.Path == "index.html" || strings.HasSuffix(p.Path, "/index.html") {
			p.Path = strings.TrimSuffix(p.Path, "index.html")
		}
		p.Path = strings.TrimSuffix(p.Path, ".html")
		if p.Path == before {
			return
		}
	}
}

var legacyAliases = map[string]string{
	"/jbossorg-downloads/jboss-6.0.0.final": "/jbossas/downloads",
	"/jbossorg-downloads/jboss-5.1.0.ga":    "/jbossas/downloads",
}

func legacyAlias(_ string, p *Page) {
	if to, ok := legacyAliases[strings.ToLower(p.Path)]; ok {
		p.Path = to
	}
}

const downloadToolPath = "/tools/download/"

func downloadToolPrefix(_ string, p *Page) {
	if strings.HasPrefix(p.Path, downloadToolPath) {
		p.Path = downloadToolPath
	}
}

func trailingSlash(_ string, p *Page) {
	p.Path = trimSlashes(p.Path)
}

// trimSlashes removes trailing slashes but never reduces a path below "/".
func trimSlashes(s string) string {
	for len(s) > 1 && strings.HasSuffix(s, "/") {
		s = s[:len(s)-1]
	}
	return s
}

type projectTag struct {
	site, path, project string
}

var projectTags = []projectTag{
	{site: "jboss.org", path: "/docs/EAPdocumentation", project: "EAP"},
	{site: "jboss.org", path: "/as7", project: "jbossas"},
}

func siteProjectTags(site string, p *Page) {
	host := strings.TrimPrefix(strings.ToLower(site), "www.")
	for _, t := range projectTags {
		if host == t.site && p.Path == t.path {
			project := t.project
			p.Project = &project
			return
		}
	}
}
