package crossref

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pubcurate/pubcurate/internal/records"
)

// ErrNotFound marks a response that holds no work, such as a stored
// FailureEnvelope.
var ErrNotFound = errors.New("crossref: no work in response")

// Parse converts a CrossRef works response into a Publication. Keys of the
// message object are matched case-insensitively and only bibliographic
// fields are kept. A failure response yields ErrNotFound.
func Parse(raw []byte) (records.Publication, error) {
	if !gjson.ValidBytes(raw) {
		return records.Publication{}, fmt.Errorf("parsing crossref response: invalid JSON")
	}
	root := gjson.ParseBytes(raw)
	msg := root.Get("message")
	if root.Get("status").String() == "failure" || !msg.IsObject() {
		return records.Publication{}, ErrNotFound
	}

	fields := make(map[string]gjson.Result)
	msg.ForEach(func(k, v gjson.Result) bool {
		fields[strings.ToLower(k.String())] = v
		return true
	})

	pub := records.Publication{
		DOI:            fields["doi"].String(),
		Title:          joinStrings(fields["title"], " "),
		Subtitle:       joinStrings(fields["subtitle"], " "),
		Subjects:       stringList(fields["subject"]),
		Abstract:       fields["abstract"].String(),
		ContainerTitle: joinStrings(fields["container-title"], ": "),
		Language:       fields["language"].String(),
		Published:      datePartsString(fields["published"]),
		Publisher:      fields["publisher"].String(),
		URL:            fields["url"].String(),
		Valid:          true,
		Date:           time.Now().UTC(),
	}
	fields["author"].ForEach(func(_, a gjson.Result) bool {
		pub.Authors = append(pub.Authors, records.Author{
			Given:    a.Get("given").String(),
			Family:   a.Get("family").String(),
			ORCID:    a.Get("ORCID").String(),
			Sequence: a.Get("sequence").String(),
		})
		return true
	})
	return pub, nil
}

// Invalid returns the placeholder kept for a DOI whose metadata could not
// be retrieved.
func Invalid(doi string) records.Publication {
	return records.Publication{DOI: doi, Valid: false, Date: time.Now().UTC()}
}

func stringList(r gjson.Result) []string {
	if !r.Exists() {
		return nil
	}
	if !r.IsArray() {
		return []string{r.String()}
	}
	var out []string
	for _, v := range r.Array() {
		out = append(out, v.String())
	}
	return out
}

func joinStrings(r gjson.Result, sep string) string {
	return strings.Join(stringList(r), sep)
}

// datePartsString renders {"date-parts": [[2023, 5, 1]]} as 2023-05-01,
// keeping only the parts present.
func datePartsString(r gjson.Result) string {
	parts := r.Get("date-parts.0").Array()
	if len(parts) == 0 {
		return ""
	}
	out := fmt.Sprintf("%04d", parts[0].Int())
	for _, p := range parts[1:] {
		out += fmt.Sprintf("-%02d", p.Int())
	}
	return out
}
