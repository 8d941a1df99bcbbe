// Package util holds small lookups shared by the converters and the CLI.
package util

import (
	"fmt"
	"sort"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// TagScope is the DICOM hierarchy level a tag identifies.
type TagScope int

const (
	ScopePatient TagScope = iota
	ScopeStudy
	ScopeSeries
	ScopeImage
)

func (s TagScope) String() string {
	switch s {
	case ScopePatient:
		return "Patient"
	case ScopeStudy:
		return "Study"
	case ScopeSeries:
		return "Series"
	case ScopeImage:
		return "Image"
	default:
		return "Unknown"
	}
}

// TagInfo describes a tag usable in a staging layout.
type TagInfo struct {
	Name  string
	Tag   tag.Tag
	Scope TagScope
}

// tagRegistry maps lowercase tag names to their TagInfo.
var tagRegistry = map[string]TagInfo{
	"patientid": {Name: "PatientID", Tag: tag.PatientID, Scope: ScopePatient},

	"studyinstanceuid": {Name: "StudyInstanceUID", Tag: tag.StudyInstanceUID, Scope: ScopeStudy},
	"studyid":          {Name: "StudyID", Tag: tag.StudyID, Scope: ScopeStudy},
	"accessionnumber":  {Name: "AccessionNumber", Tag: tag.AccessionNumber, Scope: ScopeStudy},
	"studydate":        {Name: "StudyDate", Tag: tag.StudyDate, Scope: ScopeStudy},

	"seriesinstanceuid": {Name: "SeriesInstanceUID", Tag: tag.SeriesInstanceUID, Scope: ScopeSeries},
	"seriesnumber":      {Name: "SeriesNumber", Tag: tag.SeriesNumber, Scope: ScopeSeries},
	"seriesdescription": {Name: "SeriesDescription", Tag: tag.SeriesDescription, Scope: ScopeSeries},
	"modality":          {Name: "Modality", Tag: tag.Modality, Scope: ScopeSeries},
	"bodypartexamined":  {Name: "BodyPartExamined", Tag: tag.BodyPartExamined, Scope: ScopeSeries},

	"sopinstanceuid": {Name: "SOPInstanceUID", Tag: tag.SOPInstanceUID, Scope: ScopeImage},
	"instancenumber": {Name: "InstanceNumber", Tag: tag.InstanceNumber, Scope: ScopeImage},
	"acquisitionnumber": {
		Name: "AcquisitionNumber", Tag: tag.AcquisitionNumber, Scope: ScopeImage,
	},
}

// GetTagByName returns the TagInfo of a case-insensitive tag name. Unknown
// names get the closest known name as a suggestion.
func GetTagByName(name string) (TagInfo, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if info, ok := tagRegistry[normalized]; ok {
		return info, nil
	}
	if s := findClosestTagName(normalized); s != "" {
		return TagInfo{}, fmt.Errorf("unknown tag %q, did you mean %q?", name, s)
	}
	return TagInfo{}, fmt.Errorf("unknown tag %q", name)
}

// ResolveLayout looks up every tag of a staging layout. The layout must end
// with an image scoped tag so that two instances never share a name.
func ResolveLayout(names []string) ([]TagInfo, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]TagInfo, 0, len(names))
	for _, n := range names {
		info, err := GetTagByName(n)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	if last := out[len(out)-1]; last.Scope != ScopeImage {
		return nil, fmt.Errorf("layout must end with an image tag, %s is %s scoped", last.Name, last.Scope)
	}
	return out, nil
}

// TagNames lists the registered tag names, sorted.
func TagNames() []string {
	out := make([]string, 0, len(tagRegistry))
	for _, info := range tagRegistry {
		out = append(out, info.Name)
	}
	sort.Strings(out)
	return out
}

// findClosestTagName returns the registered name nearest to input, or "" when
// nothing is within 5 edits.
func findClosestTagName(input string) string {
	const maxDistance = 5
	best := maxDistance + 1
	var match string
	for _, key := range sortedKeys() {
		if d := levenshteinDistance(input, key); d < best {
			best = d
			match = tagRegistry[key].Name
		}
	}
	if best <= maxDistance {
		return match
	}
	return ""
}

func sortedKeys() []string {
	keys := make([]string, 0, len(tagRegistry))
	for k := range tagRegistry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func levenshteinDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
