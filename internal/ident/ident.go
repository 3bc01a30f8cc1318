// Package ident validates and normalizes the persistent identifiers used
// throughout curation: DOIs for publications and ORCIDs for people.
package ident

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	doiRegex   = regexp.MustCompile(`.*(10\.\d{4,9}/[-.;()/:a-zA-Z0-9]+)$`)
	orcidRegex = regexp.MustCompile(`.*([0-9]{4}-[0-9]{4}-[0-9]{4}-[0-9]{3}[0-9X])$`)
)

// ORCIDPrefix is prepended to every cleaned ORCID.
const ORCIDPrefix = "https://orcid.org/"

// Result partitions a set of candidate identifiers. Both slices hold unique
// values in ascending order.
type Result struct {
	Clean   []string `json:"clean"`
	Removed []string `json:"removed"`
}

// NormalizeDOI extracts the DOI from s, accepting resolver URLs and "doi:"
// prefixes. It reports false when s carries no valid DOI.
func NormalizeDOI(s string) (string, bool) {
	m := doiRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// NormalizeORCID extracts the ORCID iD from s and returns it as an
// https://orcid.org/ URL.
func NormalizeORCID(s string) (string, bool) {
	m := orcidRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", false
	}
	return ORCIDPrefix + m[1], true
}

// CleanDOIs partitions values into valid DOIs and rejected input.
func CleanDOIs(values []string) Result {
	return clean(stringsToAny(values), NormalizeDOI, "doi")
}

// CleanDOIValues is CleanDOIs for loosely typed input such as decoded JSON
// or CSV cells. Numbers and booleans are rejected in their printed form;
// nil, lists, maps and other composite values are dropped with a warning.
func CleanDOIValues(values []any) Result {
	return clean(values, NormalizeDOI, "doi")
}

// CleanORCIDs partitions values into ORCID URLs and rejected input.
func CleanORCIDs(values []string) Result {
	return clean(stringsToAny(values), NormalizeORCID, "orcid")
}

// CleanORCIDValues is CleanORCIDs for loosely typed input.
func CleanORCIDValues(values []any) Result {
	return clean(values, NormalizeORCID, "orcid")
}

func clean(values []any, normalize func(string) (string, bool), kind string) Result {
	good := make(map[string]struct{})
	bad := make(map[string]struct{})

	for _, v := range values {
		switch val := v.(type) {
		case string:
			if id, ok := normalize(val); ok {
				good[id] = struct{}{}
			} else {
				bad[strings.TrimSpace(val)] = struct{}{}
			}
		case bool, int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64, float32, float64:
			bad[fmt.Sprint(val)] = struct{}{}
		default:
			slog.Warn("identifier element is not a string and has been removed",
				"kind", kind, "type", fmt.Sprintf("%T", v), "value", fmt.Sprintf("%v", v))
		}
	}

	return Result{Clean: sortedKeys(good), Removed: sortedKeys(bad)}
}

// DOIKey returns the object storage key of the raw metadata blob for doi:
// "dois/" + URL-safe base64 of the NFKD-normalized DOI + ".json".
func DOIKey(doi string) string {
	n := strings.TrimRight(norm.NFKD.String(doi), " \t\r\n")
	return "dois/" + base64.URLEncoding.EncodeToString([]byte(n)) + ".json"
}

// DOIFromKey reverses DOIKey. It reports false for keys outside the layout.
func DOIFromKey(key string) (string, bool) {
	name, ok := strings.CutPrefix(key, "dois/")
	if !ok {
		return "", false
	}
	name, ok = strings.CutSuffix(name, ".json")
	if !ok {
		return "", false
	}
	raw, err := base64.URLEncoding.DecodeString(name)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func stringsToAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
