package config

import "healthcli/pkg/contracts/domain"

// Published locations of the indicator series.
const (
	WorldBankLifeExpectancyURL = "https://api.worldbank.org/v2/en/indicator/SP.DYN.LE00.IN?downloadformat=csv"
	WHOHypertensionURL         = "https://srhdpeuwpubsa.blob.core.windows.net/whdh/DATADOT/INDICATOR/608DE39_ALL_LATEST.csv"
	WHOUHCURL                  = "https://srhdpeuwpubsa.blob.core.windows.net/whdh/DATADOT/INDICATOR/9A706FD_ALL_LATEST.csv"
	WHODTP3URL                 = "https://srhdpeuwpubsa.blob.core.windows.net/whdh/DATADOT/INDICATOR/F8E084C_ALL_LATEST.csv"
	WHOMVC2URL                 = "https://srhdpeuwpubsa.blob.core.windows.net/whdh/DATADOT/INDICATOR/BB4567B_ALL_LATEST.csv"
)

// WHO long-format column names.
const (
	whoCountryColumn = "GEO_NAME_SHORT"
	whoYearColumn    = "DIM_TIME"
	whoSexColumn     = "DIM_SEX"
)

// DefaultSources describes the five published series in join order.
func DefaultSources() []domain.SourceSpec {
	who := func(src domain.Source, url string, metrics ...string) domain.SourceSpec {
		return domain.SourceSpec{
			Source:        src,
			URL:           url,
			Layout:        domain.LayoutLong,
			HeaderMarker:  whoCountryColumn,
			CountryColumn: whoCountryColumn,
			YearColumn:    whoYearColumn,
			MetricColumns: metrics,
		}
	}

	hypertension := who(domain.SourceHypertension, WHOHypertensionURL,
		"RATE_PER_100_N", "RATE_PER_100_NL", "RATE_PER_100_NU")
	hypertension.SexColumn = whoSexColumn
	hypertension.ExcludeSexValues = []string{"MALE", "FEMALE"}

	return []domain.SourceSpec{
		{
			Source:        domain.SourceLifeExpectancy,
			URL:           WorldBankLifeExpectancyURL,
			Layout:        domain.LayoutWide,
			ArchiveMember: "API_SP.DYN.LE00.IN_DS2_*.csv",
			HeaderMarker:  "Country Name",
			CountryColumn: "Country Name",
			MetricName:    domain.ColLifeExpectancy,
		},
		hypertension,
		who(domain.SourceUHC, WHOUHCURL, "INDEX_N"),
		who(domain.SourceDTP3, WHODTP3URL, "RATE_PER_100_N"),
		who(domain.SourceMVC2, WHOMVC2URL, "RATE_PER_100_N"),
	}
}
