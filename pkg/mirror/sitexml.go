package mirror

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/variantdev/wbstage/pkg/tmpl"
)

const SiteDescriptor = "site.xml"

var (
	// The root tag is the first element after the prolog: an optional byte order mark,
	// the XML declaration, processing instructions, comments and a doctype.
	rootTagPat = regexp.MustCompile(`(?s)^\x{FEFF}?(?:\s+|<\?.*?\?>|<!--.*?-->|<!DOCTYPE[^>]*>)*` +
		`(<site(?:[\s/](?:[^>"']|"[^"]*"|'[^']*')*)?>)`)
	mirrorsAttPat = regexp.MustCompile(`(\s)mirrorsURL\s*=\s*("[^"]*"|'[^']*')`)
	tagEndPat     = regexp.MustCompile(`(\s*/?>)$`)
)

const mirrorsAttTemplate = `mirrorsURL="{{html .URL}}"`

// PatchMirrorsURL sets the mirrorsURL attribute on the root site element of a site
// descriptor, replacing any existing value. Everything outside the root tag is kept
// byte for byte.
func PatchMirrorsURL(src []byte, url string) ([]byte, error) {
	m := rootTagPat.FindSubmatchIndex(src)
	if m == nil {
		return nil, fmt.Errorf("root element is not <site>")
	}
	loc := m[2:4]

	att, err := tmpl.Render("mirrorsURL", mirrorsAttTemplate, map[string]string{"URL": url})
	if err != nil {
		return nil, err
	}

	tag := src[loc[0]:loc[1]]
	var patched []byte
	if mirrorsAttPat.Match(tag) {
		patched = regexpReplace(tag, mirrorsAttPat, "${1}"+escapeExpand(att))
	} else {
		patched = regexpReplace(tag, tagEndPat, " "+escapeExpand(att)+"${1}")
	}

	res := make([]byte, 0, len(src)+len(att)+1)
	res = append(res, src[:loc[0]]...)
	res = append(res, patched...)
	res = append(res, src[loc[1]:]...)
	return res, nil
}

func regexpReplace(source []byte, pat *regexp.Regexp, template string) []byte {
	var (
		cur int
		res []byte
	)
	for _, m := range pat.FindAllSubmatchIndex(source, -1) {
		res = append(res, source[cur:m[0]]...)
		res = pat.Expand(res, []byte(template), source, m)
		cur = m[1]
	}
	res = append(res, source[cur:]...)
	return res
}

// escapeExpand protects literal dollar signs from Regexp.Expand.
func escapeExpand(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}
