package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"healthcli/internal/dataprocessing"
	apperrors "healthcli/internal/errors"
	"healthcli/internal/store"
	"healthcli/pkg/contracts/domain"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListCountries(ctx context.Context) ([]store.CountryInfo, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.CountryInfo), args.Error(1)
}

func (m *MockStore) LoadTable(ctx context.Context, country string, from, to int) (*domain.Table, error) {
	args := m.Called(country, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Table), args.Error(1)
}

func (m *MockStore) LatestRun(ctx context.Context, country string) (*domain.RunRecord, error) {
	args := m.Called(country)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RunRecord), args.Error(1)
}

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, country dataprocessing.Country) (*dataprocessing.Result, error) {
	args := m.Called(ctx, country)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dataprocessing.Result), args.Error(1)
}

func TestIndicatorService_Countries(t *testing.T) {
	st := new(MockStore)
	st.On("ListCountries").Return([]store.CountryInfo{
		{Country: "Brazil", Rows: 33},
		{Country: "Chile", Rows: 10},
	}, nil)
	run := &domain.RunRecord{ID: "run-1", Country: "Brazil"}
	st.On("LatestRun", "Brazil").Return(run, nil)
	st.On("LatestRun", "Chile").Return(nil, store.ErrNotFound)

	got, err := NewIndicatorService(st, nil, nil).Countries(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "Brazil", got[0].Country)
	assert.Equal(t, run, got[0].LatestRun)
	assert.Nil(t, got[1].LatestRun)
	st.AssertExpectations(t)
}

func TestIndicatorService_CountriesStorageError(t *testing.T) {
	st := new(MockStore)
	st.On("ListCountries").Return(nil, errors.New("disk I/O error"))

	_, err := NewIndicatorService(st, nil, nil).Countries(context.Background())
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeStorage))
}

func TestIndicatorService_Indicators(t *testing.T) {
	tbl := domain.NewTable(domain.ColLifeExpectancy, domain.ColDTP3)
	tbl.AddRow(2000, domain.Known(70.5), domain.Known(90))
	tbl.AddRow(2001, domain.Known(71), domain.Null)

	st := new(MockStore)
	st.On("LoadTable", "Brazil", 2000, 2001).Return(tbl, nil)

	got, err := NewIndicatorService(st, nil, nil).Indicators(context.Background(), "Brazil", IndicatorQuery{From: 2000, To: 2001})
	require.NoError(t, err)

	assert.Equal(t, "Brazil", got.Country)
	assert.Equal(t, tbl.Columns, got.Columns)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, map[string]interface{}{
		domain.YearColumn:        2000,
		domain.ColLifeExpectancy: 70.5,
		domain.ColDTP3:           90.0,
	}, got.Rows[0])
	assert.Nil(t, got.Rows[1][domain.ColDTP3])
}

func TestIndicatorService_IndicatorsUnknownCountry(t *testing.T) {
	st := new(MockStore)
	st.On("LoadTable", "Atlantis", 0, 0).Return(nil, store.ErrNotFound)

	_, err := NewIndicatorService(st, nil, nil).Indicators(context.Background(), "Atlantis", IndicatorQuery{})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))
}

func TestIndicatorService_TriggerRun(t *testing.T) {
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tbl := domain.NewTable(domain.ColDTP3)
	tbl.AddRow(2000, domain.Known(1))
	tbl.AddRow(2005, domain.Known(2))
	country := dataprocessing.Country{Name: "United States of America", WorldBankName: "United States"}

	runner := new(MockRunner)
	runner.On("Run", mock.Anything, country).Return(&dataprocessing.Result{
		RunID:      "run-42",
		Country:    country,
		Table:      tbl,
		Dropped:    3,
		Imputation: dataprocessing.ImputationStats{Interpolated: 2, ForwardFilled: 1},
		Finalize:   dataprocessing.FinalizeReport{ZeroFilled: []string{domain.ColMVC2}},
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
	}, nil)

	svc := NewIndicatorService(new(MockStore), runner, nil).WithRunTimeout(time.Minute)
	got, err := svc.TriggerRun(context.Background(), RunRequest{Country: " United States of America ", WorldBankName: "United States"})
	require.NoError(t, err)

	assert.Equal(t, "run-42", got.RunID)
	assert.Equal(t, "United States", got.WorldBankName)
	assert.Equal(t, 2, got.Rows)
	assert.Equal(t, 2000, got.FirstYear)
	assert.Equal(t, 2005, got.LastYear)
	assert.Equal(t, 3, got.RowsDropped)
	assert.Equal(t, 3, got.CellsImputed)
	assert.Equal(t, []string{domain.ColMVC2}, got.ZeroFilled)
	assert.EqualValues(t, 1500, got.DurationMS)
	runner.AssertExpectations(t)
}

func TestIndicatorService_TriggerRunPropagatesErrors(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).Return(nil, apperrors.NewNetworkError("fetch DTP3", errors.New("503")))

	_, err := NewIndicatorService(new(MockStore), runner, nil).TriggerRun(context.Background(), RunRequest{Country: "Brazil"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNetwork))
}

func TestIndicatorService_TriggerRunDisabled(t *testing.T) {
	_, err := NewIndicatorService(new(MockStore), nil, nil).TriggerRun(context.Background(), RunRequest{Country: "Brazil"})
	assert.ErrorIs(t, err, ErrRunsDisabled)
}

func TestIndicatorService_OneRunPerCountry(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(&dataprocessing.Result{Table: domain.NewTable()}, nil).Once()

	svc := NewIndicatorService(new(MockStore), runner, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.TriggerRun(context.Background(), RunRequest{Country: "Brazil"})
		assert.NoError(t, err)
	}()

	<-entered
	_, err := svc.TriggerRun(context.Background(), RunRequest{Country: "brazil"})
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	wg.Wait()

	runner.On("Run", mock.Anything, mock.Anything).Return(&dataprocessing.Result{Table: domain.NewTable()}, nil).Once()
	_, err = svc.TriggerRun(context.Background(), RunRequest{Country: "Brazil"})
	assert.NoError(t, err)
}
