package fetcher

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "healthcli/internal/errors"
	"healthcli/pkg/contracts/domain"
)

const whoCSV = "GEO_NAME_SHORT,DIM_TIME,DIM_SEX,INDEX_N\nBrazil,2019,TOTAL,75\nBrazil,2021,TOTAL,80\n"

const worldBankCSV = `"Data Source","World Development Indicators",

"Last Updated Date","2024-06-28",

"Country Name","Country Code","Indicator Name","Indicator Code","2019","2020",
"Brazil","BRA","Life expectancy at birth, total (years)","SP.DYN.LE00.IN","75.3","74.0",
`

func whoSpec(url string) domain.SourceSpec {
	return domain.SourceSpec{
		Source:        domain.SourceUHC,
		URL:           url,
		Layout:        domain.LayoutLong,
		HeaderMarker:  "GEO_NAME_SHORT",
		CountryColumn: "GEO_NAME_SHORT",
		YearColumn:    "DIM_TIME",
		MetricColumns: []string{"INDEX_N"},
	}
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newFetcher(t *testing.T, opts Options) *HTTPFetcher {
	t.Helper()
	f, err := New(opts, http.DefaultClient, nil)
	require.NoError(t, err)
	return f
}

func TestFetch_CSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "healthcli/test", r.Header.Get("User-Agent"))
		w.Write([]byte(whoCSV))
	}))
	defer srv.Close()

	f := newFetcher(t, Options{UserAgent: "healthcli/test"})
	payload, err := f.Fetch(context.Background(), whoSpec(srv.URL))
	require.NoError(t, err)

	assert.Equal(t, domain.SourceUHC, payload.Source)
	assert.Equal(t, srv.URL, payload.Location)
	assert.Equal(t, len(whoCSV), payload.Size)
	assert.Equal(t, Digest([]byte(whoCSV)), payload.Digest)
	assert.Len(t, payload.Digest, 64)
	assert.Equal(t, []string{"GEO_NAME_SHORT", "DIM_TIME", "DIM_SEX", "INDEX_N"}, payload.Table.Header)
	assert.Len(t, payload.Table.Records, 2)
}

func TestFetch_ZipArchive(t *testing.T) {
	archive := zipOf(t, map[string]string{
		"Metadata_Country_API_SP.DYN.LE00.IN_DS2_en_csv_v2_99.csv": "junk\n",
		"API_SP.DYN.LE00.IN_DS2_en_csv_v2_99.csv":                  worldBankCSV,
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Write(archive)
	}))
	defer srv.Close()

	f := newFetcher(t, Options{})
	payload, err := f.Fetch(context.Background(), domain.SourceSpec{
		Source:        domain.SourceLifeExpectancy,
		URL:           srv.URL,
		Layout:        domain.LayoutWide,
		ArchiveMember: "API_SP.DYN.LE00.IN_DS2_*.csv",
		HeaderMarker:  "Country Name",
		CountryColumn: "Country Name",
		MetricName:    domain.ColLifeExpectancy,
	})
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"#API_SP.DYN.LE00.IN_DS2_en_csv_v2_99.csv", payload.Location)
	assert.Equal(t, "Country Name", payload.Table.Header[0])
	require.Len(t, payload.Table.Records, 1)
	assert.Equal(t, "Brazil", payload.Table.Records[0][0])
}

func TestFetch_ArchiveMemberMissing(t *testing.T) {
	archive := zipOf(t, map[string]string{"other.csv": "a,b\n"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	spec := whoSpec(srv.URL)
	spec.ArchiveMember = "API_*.csv"

	_, err := newFetcher(t, Options{}).Fetch(context.Background(), spec)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeParsing))
}

func TestFetch_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newFetcher(t, Options{}).Fetch(context.Background(), whoSpec(srv.URL))
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrTypeNetwork, appErr.Type)
	assert.Equal(t, http.StatusServiceUnavailable, appErr.Context["status"])
}

func TestFetch_MissingHeaderIsSchemaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("COUNTRY,YEAR\nBrazil,2019\n"))
	}))
	defer srv.Close()

	_, err := newFetcher(t, Options{}).Fetch(context.Background(), whoSpec(srv.URL))
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeSchema))
}

func TestFetch_MaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(whoCSV))
	}))
	defer srv.Close()

	_, err := newFetcher(t, Options{MaxBytes: 10}).Fetch(context.Background(), whoSpec(srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 10 bytes")
}

func TestFetch_CachesByURL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(whoCSV))
	}))
	defer srv.Close()

	f := newFetcher(t, Options{CacheTTL: time.Hour})
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), whoSpec(srv.URL))
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, hits.Load())

	f.Invalidate()
	_, err := f.Fetch(context.Background(), whoSpec(srv.URL))
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetch_CacheExpires(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(whoCSV))
	}))
	defer srv.Close()

	f := newFetcher(t, Options{CacheTTL: time.Minute})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	_, err := f.Fetch(context.Background(), whoSpec(srv.URL))
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = f.Fetch(context.Background(), whoSpec(srv.URL))
	require.NoError(t, err)

	assert.EqualValues(t, 2, hits.Load())
}

func TestFetch_ConcurrentCallersShareDownload(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write([]byte(whoCSV))
	}))
	defer srv.Close()

	f := newFetcher(t, Options{CacheTTL: time.Hour})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Fetch(context.Background(), whoSpec(srv.URL))
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, hits.Load())
}

func TestFetch_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uhc.csv")
	require.NoError(t, os.WriteFile(path, []byte(whoCSV), 0644))

	f := newFetcher(t, Options{})

	for _, location := range []string{path, "file://" + path} {
		payload, err := f.Fetch(context.Background(), whoSpec(location))
		require.NoError(t, err, location)
		assert.Len(t, payload.Table.Records, 2)
	}

	_, err := f.Fetch(context.Background(), whoSpec(filepath.Join(t.TempDir(), "missing.csv")))
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNetwork))
}

func TestFetch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(whoCSV))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newFetcher(t, Options{}).Fetch(ctx, whoSpec(srv.URL))
	assert.Error(t, err)
}

func TestFetch_CancelledCallerDoesNotAbortSharedDownload(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		w.Write([]byte(whoCSV))
	}))
	defer srv.Close()

	f := newFetcher(t, Options{CacheTTL: time.Hour})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.Fetch(firstCtx, whoSpec(srv.URL))
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)

	secondErr := make(chan error, 1)
	go func() {
		_, err := f.Fetch(context.Background(), whoSpec(srv.URL))
		secondErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNetwork))
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting for the shared download")
	}

	close(release)
	select {
	case err := <-secondErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second caller did not receive the shared download")
	}
	assert.EqualValues(t, 1, hits.Load())
}
