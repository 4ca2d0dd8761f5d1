// Package match decides whether rule URL pattern applies to a page.
//
// Pattern is a literal URL where every '*' stands for any (possibly empty)
// sequence of characters. Two patterns match everything regardless of the
// URL: "<all_urls>" and "*://*/*". Matching is case sensitive and covers the
// whole URL.
package match

import (
	"regexp"
	"strings"
	"sync"
)

const (
	AllURLs              = "<all_urls>"
	AllSchemesHostsPaths = "*://*/*"
)

// Compile converts pattern into anchored regular expression. Every character
// other than '*' is matched literally.
func Compile(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i := range parts {
		parts[i] = regexp.QuoteMeta(parts[i])
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}

// Matcher memoizes compiled patterns. Safe for concurrent use.
type Matcher struct {
	cache sync.Map // pattern -> *regexp.Regexp
}

func NewMatcher() *Matcher {
	return &Matcher{}
}

// Match reports whether url satisfies pattern. Empty pattern never matches.
func (m *Matcher) Match(pattern, url string) bool {
	if len(pattern) == 0 {
		return false
	}
	if pattern == AllURLs || pattern == AllSchemesHostsPaths {
		return true
	}
	if re, ok := m.cache.Load(pattern); ok {
		return re.(*regexp.Regexp).MatchString(url)
	}
	re, err := Compile(pattern)
	if err != nil {
		// quoted literals joined with ".*" always compile
		return false
	}
	m.cache.Store(pattern, re)
	return re.MatchString(url)
}

var defaultMatcher = NewMatcher()

// Matches reports whether url satisfies pattern using shared pattern cache.
func Matches(pattern, url string) bool {
	return defaultMatcher.Match(pattern, url)
}
