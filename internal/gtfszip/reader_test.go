package gtfszip

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestReadTable(t *testing.T) {
	payload := buildArchive(t, map[string]string{
		"routes.txt": "route_id,route_short_name\n1,Tram One\n2,Bus Two\n",
	})

	rows, err := ReadTable(payload, "routes.txt")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0]["route_id"])
	assert.Equal(t, "Tram One", rows[0]["route_short_name"])
}

func TestReadTableCaseInsensitiveNestedMember(t *testing.T) {
	payload := buildArchive(t, map[string]string{
		"gtfs-export/Stops.TXT": "stop_id,stop_name\ns1,Utrina\n",
	})

	rows, err := ReadTable(payload, "stops.txt")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Utrina", rows[0]["stop_name"])
}

func TestReadTableSemicolonDelimiterWithBOM(t *testing.T) {
	payload := buildArchive(t, map[string]string{
		"trips.txt": "\xEF\xBB\xBFtrip_id;route_id;service_id\nt1;1;svc\n",
	})

	rows, err := ReadTable(payload, "trips.txt")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "t1", rows[0]["trip_id"])
	assert.Equal(t, "svc", rows[0]["service_id"])
}

func TestReadTableMissingMemberIsEmpty(t *testing.T) {
	payload := buildArchive(t, map[string]string{
		"routes.txt": "route_id\n1\n",
	})

	rows, err := ReadTable(payload, "calendar_dates.txt")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadTableShortRecords(t *testing.T) {
	payload := buildArchive(t, map[string]string{
		"stops.txt": "stop_id,stop_name,stop_lat\ns1,Utrina\n",
	})

	rows, err := ReadTable(payload, "stops.txt")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "s1", rows[0]["stop_id"])
	_, hasLat := rows[0]["stop_lat"]
	assert.False(t, hasLat)
}

func TestReadTableCorruptArchive(t *testing.T) {
	_, err := ReadTable([]byte("not a zip"), "routes.txt")
	assert.Error(t, err)
}

func TestFeedInfo(t *testing.T) {
	payload := buildArchive(t, map[string]string{
		"feed_info.txt": "feed_publisher_name,feed_version,feed_start_date,feed_end_date\nZET,137,20250101,20251231\n",
	})

	info, err := FeedInfo(payload)
	require.NoError(t, err)
	assert.Equal(t, "137", info["feed_version"])
	assert.Equal(t, "20250101", info["feed_start_date"])
}

func TestFeedInfoAbsent(t *testing.T) {
	payload := buildArchive(t, map[string]string{
		"routes.txt": "route_id\n1\n",
	})

	info, err := FeedInfo(payload)
	require.NoError(t, err)
	assert.Empty(t, info)
}
