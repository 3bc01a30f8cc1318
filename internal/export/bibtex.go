// Package export renders stored publications in bibliography formats.
package export

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/nickng/bibtex"

	"github.com/pubcurate/pubcurate/internal/records"
)

// BibTeX builds a bibliography with one entry per publication. Records
// without a title are skipped. Cite keys are unique within the result.
func BibTeX(pubs []records.Publication) *bibtex.BibTex {
	bib := bibtex.NewBibTex()
	used := make(map[string]int)
	for _, p := range pubs {
		if strings.TrimSpace(p.Title) == "" {
			continue
		}
		key := citeKey(p)
		if n := used[key]; n > 0 {
			used[key]++
			key = fmt.Sprintf("%s%c", key, 'a'+rune(n-1))
		} else {
			used[key] = 1
		}
		bib.AddEntry(entry(p, key))
	}
	return bib
}

// WriteBibTeX writes pubs to w as BibTeX.
func WriteBibTeX(w io.Writer, pubs []records.Publication) (int, error) {
	bib := BibTeX(pubs)
	if _, err := io.WriteString(w, bib.PrettyString()); err != nil {
		return 0, fmt.Errorf("writing bibtex: %w", err)
	}
	return len(bib.Entries), nil
}

func entry(p records.Publication, key string) *bibtex.BibEntry {
	typ := "misc"
	if p.ContainerTitle != "" {
		typ = "article"
	}
	e := bibtex.NewBibEntry(typ, key)

	title := p.Title
	if p.Subtitle != "" {
		title += ": " + p.Subtitle
	}
	add(e, "title", title)
	add(e, "author", authors(p.Authors))
	add(e, "journal", p.ContainerTitle)
	add(e, "year", year(p.Published))
	add(e, "publisher", p.Publisher)
	add(e, "doi", p.DOI)
	add(e, "url", p.URL)
	return e
}

func add(e *bibtex.BibEntry, field, value string) {
	value = strings.NewReplacer("{", "", "}", "").Replace(strings.TrimSpace(value))
	if value == "" {
		return
	}
	e.AddField(field, bibtex.NewBibConst(value))
}

func authors(as []records.Author) string {
	var names []string
	for _, a := range as {
		switch {
		case a.Family != "" && a.Given != "":
			names = append(names, a.Family+", "+a.Given)
		case a.Family != "":
			names = append(names, a.Family)
		case a.Given != "":
			names = append(names, a.Given)
		}
	}
	return strings.Join(names, " and ")
}

// year takes the leading year of a published date such as 2021-03-01.
func year(published string) string {
	if len(published) >= 4 {
		y := published[:4]
		if strings.IndexFunc(y, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
			return y
		}
	}
	return ""
}

// citeKey is family name, year and first title word, e.g. smith2021pollen.
func citeKey(p records.Publication) string {
	var b strings.Builder
	if len(p.Authors) > 0 {
		b.WriteString(alnum(p.Authors[0].Family))
	}
	b.WriteString(year(p.Published))
	for _, w := range strings.Fields(p.Title) {
		if w = alnum(w); len(w) > 3 {
			b.WriteString(w)
			break
		}
	}
	if b.Len() == 0 {
		return "ref"
	}
	return b.String()
}

func alnum(s string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
}
