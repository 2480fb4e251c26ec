package logger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shaunagostinho/reflow-dash/internal/session"
	"github.com/shaunagostinho/reflow-dash/internal/telemetry"
)

var ended = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func testSession(n int) *session.Session {
	s := &session.Session{ID: "abc", Profile: "NC-31 LOW-TEMP LF", Ended: ended}
	for i := 1; i <= n; i++ {
		s.Samples = append(s.Samples, telemetry.Sample{
			Time: float64(i), Temp0: 20 + float64(i), Set: 30 + float64(i), Actual: 25 + float64(i),
			Heat: 200, Fan: 3, ColdJ: 24.5, Mode: telemetry.ModeReflow,
		})
	}
	return s
}

func TestKey(t *testing.T) {
	tests := []struct {
		profile string
		want    string
	}{
		{"bake", "2026-03-14_092653-bake"},
		{"NC-31 LOW-TEMP LF", "2026-03-14_092653-NC-31_LOW-TEMP_LF"},
		{"2: 4300 63SN/37PB", "2026-03-14_092653-2__4300_63SN_37PB"},
		{"CUSTOM #1", "2026-03-14_092653-CUSTOM__1"},
		{"  ", "2026-03-14_092653-unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(ended, tt.profile))
		})
	}
}

func TestPersistWritesCSV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	e := New(Config{Path: dir}, zap.NewNop().Sugar())

	require.NoError(t, e.Persist(testSession(3)))

	f, err := os.Open(filepath.Join(dir, "2026-03-14_092653-NC-31_LOW-TEMP_LF.csv"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, telemetry.Fields, rows[0])
	assert.Equal(t, []string{"1.0", "21.0", "0.0", "0.0", "0.0", "31.0", "26.0", "200", "3", "24.5", "REFLOW"}, rows[1])

	_, err = os.Stat(filepath.Join(dir, "2026-03-14_092653-NC-31_LOW-TEMP_LF.png"))
	assert.True(t, os.IsNotExist(err), "images disabled")
}

func TestPersistEmptySession(t *testing.T) {
	dir := t.TempDir()
	e := New(Config{Path: dir, Images: true}, zap.NewNop().Sugar())

	require.NoError(t, e.Persist(&session.Session{Profile: "bake", Ended: ended}))

	data, err := os.ReadFile(filepath.Join(dir, "2026-03-14_092653-bake.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Time,Temp0,Temp1,Temp2,Temp3,Set,Actual,Heat,Fan,ColdJ,Mode\n", string(data))

	matches, _ := filepath.Glob(filepath.Join(dir, "*.png"))
	assert.Empty(t, matches)
}

func TestPersistWritesCharts(t *testing.T) {
	dir := t.TempDir()
	e := New(Config{Path: dir, Images: true}, zap.NewNop().Sugar())

	require.NoError(t, e.Persist(testSession(20)))

	for _, ext := range []string{".csv", ".png", ".svg"} {
		info, err := os.Stat(filepath.Join(dir, "2026-03-14_092653-NC-31_LOW-TEMP_LF"+ext))
		require.NoError(t, err, ext)
		assert.NotZero(t, info.Size(), ext)
	}
}

func TestPersistFailsOnUnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	e := New(Config{Path: file}, zap.NewNop().Sugar())
	assert.Error(t, e.Persist(testSession(1)))
}

func TestPlottable(t *testing.T) {
	assert.False(t, plottable(nil))
	assert.False(t, plottable(testSession(1).Samples))
	assert.True(t, plottable(testSession(2).Samples))

	same := []telemetry.Sample{{Time: 1, Actual: 20}, {Time: 1, Actual: 30}}
	assert.False(t, plottable(same))
}
