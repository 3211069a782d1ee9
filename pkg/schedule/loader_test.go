package schedule

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScheduleFile(tb testing.TB, name, content string) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), name)
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(tb, err, "Failed to write schedule fixture")
	return path
}

func TestLoadFile_JSON(t *testing.T) {
	want := sampleSchedule()
	data, err := json.Marshal(want)
	require.NoError(t, err, "Marshal failed")

	path := writeScheduleFile(t, "weekday.json", string(data))

	got, err := LoadFile(path)
	require.NoError(t, err, "LoadFile failed")
	assert.Equal(t, want, got, "JSON import must preserve the schedule")
}

func TestLoadFile_JSONInvalidSchedule(t *testing.T) {
	path := writeScheduleFile(t, "empty.json", `{"name":"empty","slots":[]}`)

	_, err := LoadFile(path)
	require.Error(t, err, "Empty schedule must be rejected")
	assert.Contains(t, err.Error(), "no dose slots", "Validation should run on import")
}

func TestLoadFile_CSV(t *testing.T) {
	content := "compartment,time,pill,count\n" +
		"1,08:00,Lisinopril,1\n" +
		"1,08:00,Metformin,2\n" +
		"3,20:30,Atorvastatin,1\n"
	path := writeScheduleFile(t, "weekday.csv", content)

	got, err := LoadFile(path)
	require.NoError(t, err, "LoadFile failed")

	assert.Equal(t, "weekday", got.Name, "Name should come from the file name")
	assert.Equal(t, sampleSchedule().Slots, got.Slots, "Rows must group into dose slots in order")
}

func TestLoadFile_CSVWithoutHeader(t *testing.T) {
	content := "2,12:00,Ibuprofen,1\n" +
		"4,18:45,Omeprazole,2\n"
	path := writeScheduleFile(t, "evening.csv", content)

	got, err := LoadFile(path)
	require.NoError(t, err, "LoadFile failed")

	require.Len(t, got.Slots, 2, "Each distinct compartment/time pair is one slot")
	assert.Equal(t, 2, got.Slots[0].Compartment, "First slot mismatch")
	assert.Equal(t, []Pill{{Name: "Omeprazole", Count: 2}}, got.Slots[1].Pills, "Second slot mismatch")
}

func TestLoadFile_CSVBadRow(t *testing.T) {
	content := "compartment,time,pill,count\n" +
		"first,08:00,Lisinopril,1\n" +
		"2,12:00,Ibuprofen,one\n"
	path := writeScheduleFile(t, "broken.csv", content)

	_, err := LoadFile(path)
	require.Error(t, err, "Unparseable rows must be rejected")
	assert.Contains(t, err.Error(), "bad compartment", "Error should point at the field")
}

func TestLoadFile_JSONAndCSVEquivalent(t *testing.T) {
	want := sampleSchedule()
	data, err := json.Marshal(want)
	require.NoError(t, err, "Marshal failed")

	jsonPath := writeScheduleFile(t, "weekday.json", string(data))
	csvPath := writeScheduleFile(t, "weekday.csv",
		"compartment,time,pill,count\n"+
			"1,08:00,Lisinopril,1\n"+
			"1,08:00,Metformin,2\n"+
			"3,20:30,Atorvastatin,1\n")

	fromJSON, err := LoadFile(jsonPath)
	require.NoError(t, err, "JSON load failed")
	fromCSV, err := LoadFile(csvPath)
	require.NoError(t, err, "CSV load failed")

	assert.Equal(t, fromJSON.Slots, fromCSV.Slots, "Both formats must yield the same model")
}

func TestLoadFile_UnsupportedFormat(t *testing.T) {
	path := writeScheduleFile(t, "notes.txt",
		"take the blue ones in the morning\nand the white ones at night\n")

	_, err := LoadFile(path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat, "Unknown content must be rejected")
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err, "Missing file must be rejected")
	assert.Contains(t, err.Error(), "no such file", "Error should say the file is missing")
}

func TestLoadFile_Directory(t *testing.T) {
	_, err := LoadFile(t.TempDir())
	require.Error(t, err, "Directory must be rejected")
	assert.Contains(t, err.Error(), "is a directory", "Error should say it is a directory")
}
