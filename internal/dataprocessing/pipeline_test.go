package dataprocessing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcli/internal/config"
	apperrors "healthcli/internal/errors"
	"healthcli/pkg/contracts/domain"
)

var sourceFixtures = map[domain.Source]string{
	domain.SourceLifeExpectancy: worldBankFixture,
	domain.SourceHypertension: `GEO_NAME_SHORT,DIM_TIME,DIM_SEX,RATE_PER_100_N,RATE_PER_100_NL,RATE_PER_100_NU
Brazil,2000,TOTAL,30,20,40
Brazil,2000,MALE,99,99,99
Brazil,2002,TOTAL,,25,35
United States of America,2001,TOTAL,45,40,50
`,
	domain.SourceUHC: `GEO_NAME_SHORT,DIM_TIME,INDEX_N
Brazil,2000,60
Brazil,2003,66
United States of America,2001,80
`,
	domain.SourceDTP3: `GEO_NAME_SHORT,DIM_TIME,RATE_PER_100_N
Brazil,2000,90
Brazil,2002,94
United States of America,2000,95
United States of America,2001,94
`,
	domain.SourceMVC2: `GEO_NAME_SHORT,DIM_TIME,RATE_PER_100_N
Brazil,2001,80
`,
}

type fakeFetcher struct {
	mu       sync.Mutex
	fixtures map[domain.Source]string
	errs     map[domain.Source]error
	calls    int
}

func newFakeFetcher() *fakeFetcher {
	fixtures := make(map[domain.Source]string, len(sourceFixtures))
	for k, v := range sourceFixtures {
		fixtures[k] = v
	}
	return &fakeFetcher{fixtures: fixtures, errs: map[domain.Source]error{}}
}

func (f *fakeFetcher) Fetch(_ context.Context, spec domain.SourceSpec) (*domain.Payload, error) {
	f.mu.Lock()
	f.calls++
	err := f.errs[spec.Source]
	body := f.fixtures[spec.Source]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	raw, err := ParseCSV(strings.NewReader(body), spec.HeaderMarker)
	if err != nil {
		return nil, err
	}
	return &domain.Payload{
		Source: spec.Source,
		Digest: fmt.Sprintf("digest-%s", spec.Source),
		Size:   len(body),
		Table:  raw,
	}, nil
}

type memorySink struct {
	mu     sync.Mutex
	tables map[string]*domain.Table
	runs   []domain.RunRecord
	err    error
}

func newMemorySink() *memorySink {
	return &memorySink{tables: map[string]*domain.Table{}}
}

func (s *memorySink) Name() string { return "memory" }

func (s *memorySink) Write(_ context.Context, country string, t *domain.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.tables[country] = t.Clone()
	return nil
}

func (s *memorySink) RecordRun(_ context.Context, run domain.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func testPipelineConfig() Config {
	cfg := DefaultConfig()
	cfg.Sources = config.DefaultSources()
	return cfg
}

func newTestPipeline(t *testing.T, cfg Config, f Fetcher, sinks ...Sink) (*Pipeline, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p, err := NewPipeline(cfg, f, sinks, logger)
	require.NoError(t, err)
	return p, &buf
}

var brazil = Country{Name: "Brazil"}
var unitedStates = Country{Name: "United States of America", WorldBankName: "United States"}

func TestPipeline_Run(t *testing.T) {
	sink := newMemorySink()
	p, _ := newTestPipeline(t, testPipelineConfig(), newFakeFetcher(), sink)

	res, err := p.Run(context.Background(), brazil)
	require.NoError(t, err)

	assert.Equal(t, domain.OutputColumns, res.Table.Columns)
	assert.Equal(t, []int{2000, 2001, 2002, 2003}, res.Table.Years())
	assert.Equal(t, 1, res.Dropped)

	// Life Expectancy, hypertension N/NL/NU, UHC, DTP3, MVC2
	want := [][]domain.Value{
		known(70.5, 30, 20, 40, 60, 90, 80),
		known(71, 30, 20, 40, 62, 92, 80),
		known(71.5, 30, 25, 35, 64, 94, 80),
		known(72, 30, 25, 35, 66, 94, 80),
	}
	for i, row := range res.Table.Rows {
		assert.Equal(t, want[i], row.Values, "year %d", row.Year)
	}

	assert.Equal(t, 3, res.Imputation.Interpolated)
	assert.Equal(t, 2, res.Imputation.Derived)
	assert.Equal(t, 1, res.Imputation.BackwardFilled)
	assert.Empty(t, res.Finalize.ZeroFilled)
	assert.Len(t, res.Digests, len(domain.AllSources))
	assert.NotEmpty(t, res.RunID)
	assert.NoError(t, Validate(res.Table, ValidationRules{MinYear: 1990, MaxYear: 2022, NonNegative: true}))

	require.Contains(t, sink.tables, "Brazil")
	assert.Equal(t, res.Table, sink.tables["Brazil"])
	require.Len(t, sink.runs, 1)
	assert.Equal(t, res.RunID, sink.runs[0].ID)
	assert.Equal(t, "Brazil", sink.runs[0].WorldBankName)
	assert.Equal(t, 4, sink.runs[0].Rows)
}

func TestPipeline_CountryMissingFromSource(t *testing.T) {
	sink := newMemorySink()
	p, logs := newTestPipeline(t, testPipelineConfig(), newFakeFetcher(), sink)

	res, err := p.Run(context.Background(), unitedStates)
	require.NoError(t, err)

	assert.Equal(t, []int{2000, 2001}, res.Table.Years())
	assert.Equal(t, 3, res.Dropped)
	assert.Equal(t, []string{domain.ColMVC2}, res.Finalize.ZeroFilled)
	assert.Equal(t, known(0, 0), column(t, res.Table, domain.ColMVC2))
	assert.Equal(t, known(76.5, 77), column(t, res.Table, domain.ColLifeExpectancy))
	assert.Equal(t, known(45, 45), column(t, res.Table, domain.ColHypertension))

	assert.Contains(t, logs.String(), "country not found in source")
	assert.Contains(t, sink.tables, "United States of America")
	assert.Equal(t, "United States", sink.runs[0].WorldBankName)
}

func TestPipeline_EmptyColumnFailPolicy(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.EmptyColumnPolicy = EmptyColumnFail
	sink := newMemorySink()
	p, _ := newTestPipeline(t, cfg, newFakeFetcher(), sink)

	_, err := p.Run(context.Background(), unitedStates)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
	assert.ErrorIs(t, err, ErrEmptyColumn)
	assert.Empty(t, sink.tables)
}

func TestPipeline_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		source   domain.Source
		body     string
		errType  apperrors.ErrorType
		sentinel error
	}{
		{
			name:     "missing column",
			source:   domain.SourceDTP3,
			body:     "GEO_NAME_SHORT,DIM_TIME,VALUE\nBrazil,2000,1\n",
			errType:  apperrors.ErrTypeSchema,
			sentinel: ErrMissingColumn,
		},
		{
			name:     "duplicate year",
			source:   domain.SourceUHC,
			body:     "GEO_NAME_SHORT,DIM_TIME,INDEX_N\nBrazil,2000,1\nBrazil,2000,2\n",
			errType:  apperrors.ErrTypeSchema,
			sentinel: ErrDuplicateYear,
		},
		{
			name:     "malformed value",
			source:   domain.SourceMVC2,
			body:     "GEO_NAME_SHORT,DIM_TIME,RATE_PER_100_N\nBrazil,2000,n/a\n",
			errType:  apperrors.ErrTypeParsing,
			sentinel: ErrMalformedValue,
		},
		{
			name:     "negative value",
			source:   domain.SourceUHC,
			body:     "GEO_NAME_SHORT,DIM_TIME,INDEX_N\nBrazil,2000,-5\n",
			errType:  apperrors.ErrTypeValidation,
			sentinel: ErrInvariant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFetcher()
			f.fixtures[tt.source] = tt.body
			sink := newMemorySink()
			p, _ := newTestPipeline(t, testPipelineConfig(), f, sink)

			_, err := p.Run(context.Background(), brazil)
			require.Error(t, err)
			assert.Equal(t, tt.errType, apperrors.TypeOf(err))
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Empty(t, sink.tables)
			assert.Empty(t, sink.runs)
		})
	}
}

func TestPipeline_FetchFailure(t *testing.T) {
	f := newFakeFetcher()
	f.errs[domain.SourceDTP3] = errors.New("connection refused")
	sink := newMemorySink()
	p, _ := newTestPipeline(t, testPipelineConfig(), f, sink)

	_, err := p.Run(context.Background(), brazil)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNetwork))
	assert.Empty(t, sink.tables)
}

func TestPipeline_FetchAppErrorPassesThrough(t *testing.T) {
	f := newFakeFetcher()
	f.errs[domain.SourceUHC] = apperrors.NewSchemaError("archive member not found", nil)
	p, _ := newTestPipeline(t, testPipelineConfig(), f)

	_, err := p.Run(context.Background(), brazil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeSchema))
}

func TestPipeline_SinkFailure(t *testing.T) {
	sink := newMemorySink()
	sink.err = errors.New("disk full")
	p, _ := newTestPipeline(t, testPipelineConfig(), newFakeFetcher(), sink)

	_, err := p.Run(context.Background(), brazil)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeStorage))
	assert.Empty(t, sink.runs)
}

func TestPipeline_RunAll(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Workers = 2
	f := newFakeFetcher()
	sink := newMemorySink()
	p, _ := newTestPipeline(t, cfg, f, sink)

	results, err := p.RunAll(context.Background(), []Country{brazil, unitedStates})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Brazil", results[0].Country.Name)
	assert.Equal(t, "United States of America", results[1].Country.Name)
	assert.Len(t, sink.tables, 2)
	assert.Equal(t, 2*len(domain.AllSources), f.calls)
}

func TestPipeline_RunAllContinuesAfterFailure(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.EmptyColumnPolicy = EmptyColumnFail
	sink := newMemorySink()
	p, _ := newTestPipeline(t, cfg, newFakeFetcher(), sink)

	results, err := p.RunAll(context.Background(), []Country{unitedStates, brazil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "United States of America")
	assert.Nil(t, results[0])
	require.NotNil(t, results[1])
	assert.Contains(t, sink.tables, "Brazil")
}

func TestPipeline_Process(t *testing.T) {
	p, _ := newTestPipeline(t, testPipelineConfig(), newFakeFetcher())

	le := domain.NewTable(domain.ColLifeExpectancy)
	le.AddRow(2010, domain.Known(70))
	le.AddRow(2011, domain.Known(71))
	dtp3 := domain.NewTable(domain.ColDTP3)
	dtp3.AddRow(2011, domain.Known(90))

	got, err := p.Process(context.Background(), []*domain.Table{le, dtp3}, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{2011}, got.Years())
	assert.Equal(t, known(71, 0, 0, 0, 0, 90, 0), got.Rows[0].Values)
}

func TestNewPipeline_Validation(t *testing.T) {
	_, err := NewPipeline(testPipelineConfig(), nil, nil, nil)
	assert.Error(t, err)

	_, err = NewPipeline(DefaultConfig(), newFakeFetcher(), nil, nil)
	assert.Error(t, err)
}

func TestCountry_NameFor(t *testing.T) {
	assert.Equal(t, "United States", unitedStates.NameFor(domain.SourceLifeExpectancy))
	assert.Equal(t, "United States of America", unitedStates.NameFor(domain.SourceDTP3))
	assert.Equal(t, "Brazil", brazil.NameFor(domain.SourceLifeExpectancy))
}
