package domain

import (
	"fmt"
	"strings"
)

// Source identifies one of the independently published indicator series.
type Source int

const (
	SourceLifeExpectancy Source = iota
	SourceHypertension
	SourceUHC
	SourceDTP3
	SourceMVC2
)

// AllSources lists every source in join order. Life expectancy comes first
// so the merged table starts from the longest series.
var AllSources = []Source{
	SourceLifeExpectancy,
	SourceHypertension,
	SourceUHC,
	SourceDTP3,
	SourceMVC2,
}

var sourcePrefixes = map[Source]string{
	SourceLifeExpectancy: "LIFE_EXPECTANCY",
	SourceHypertension:   "HYPERTENSION",
	SourceUHC:            "UHC",
	SourceDTP3:           "DTP3",
	SourceMVC2:           "MVC2",
}

// Prefix returns the metric-name prefix reserved for the source.
func (s Source) Prefix() string {
	if p, ok := sourcePrefixes[s]; ok {
		return p
	}
	return fmt.Sprintf("SOURCE_%d", int(s))
}

// String implements fmt.Stringer
func (s Source) String() string {
	return s.Prefix()
}

// ParseSource resolves a source from its prefix, ignoring case.
func ParseSource(name string) (Source, error) {
	for src, prefix := range sourcePrefixes {
		if strings.EqualFold(prefix, strings.TrimSpace(name)) {
			return src, nil
		}
	}
	return 0, fmt.Errorf("unknown source %q", name)
}

// MarshalYAML renders the source by prefix.
func (s Source) MarshalYAML() (interface{}, error) {
	return s.Prefix(), nil
}

// UnmarshalYAML accepts the source prefix.
func (s *Source) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	parsed, err := ParseSource(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Layout describes how a source arranges years.
type Layout string

const (
	// LayoutLong has one row per (country, year).
	LayoutLong Layout = "long"
	// LayoutWide has one row per country and one column per year.
	LayoutWide Layout = "wide"
)

// SourceSpec fully describes how to fetch and normalize one source.
// Columns are always selected by header name.
type SourceSpec struct {
	Source Source `yaml:"source" json:"source"`
	URL    string `yaml:"url" json:"url" validate:"required"`
	Layout Layout `yaml:"layout" json:"layout" validate:"required,oneof=long wide"`

	// ArchiveMember is a glob matched against zip entry names when the
	// payload is an archive. Empty means the payload is plain CSV.
	ArchiveMember string `yaml:"archive_member,omitempty" json:"archive_member,omitempty"`

	// HeaderMarker is a header cell that identifies the header row; lines
	// before it are preamble.
	HeaderMarker string `yaml:"header_marker" json:"header_marker" validate:"required"`

	CountryColumn string   `yaml:"country_column" json:"country_column" validate:"required"`
	YearColumn    string   `yaml:"year_column,omitempty" json:"year_column,omitempty"`
	MetricColumns []string `yaml:"metric_columns,omitempty" json:"metric_columns,omitempty"`

	// SexColumn, when set, restricts rows to the aggregate category by
	// excluding ExcludeSexValues.
	SexColumn        string   `yaml:"sex_column,omitempty" json:"sex_column,omitempty"`
	ExcludeSexValues []string `yaml:"exclude_sex_values,omitempty" json:"exclude_sex_values,omitempty"`

	// MetricName names the single metric produced by a wide source.
	MetricName string `yaml:"metric_name,omitempty" json:"metric_name,omitempty"`
}

// OutputColumns returns the canonical column names this source yields,
// year column first.
func (s SourceSpec) OutputColumns() []string {
	if s.Layout == LayoutWide {
		return []string{YearColumn, s.MetricName}
	}
	cols := make([]string, 0, len(s.MetricColumns)+1)
	cols = append(cols, YearColumn)
	for _, m := range s.MetricColumns {
		cols = append(cols, PrefixedName(s.Source, m))
	}
	return cols
}

// PrefixedName builds the collision-free metric name for a source column.
func PrefixedName(src Source, column string) string {
	return src.Prefix() + "_" + column
}
