package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantry-gpt/internal/scanerr"
)

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, map[string]string{
		"b.jpg":     "b",
		"a.png":     "a",
		".DS_Store": "x",
	})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "processed"), 0o755))

	paths, err := listImages(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.jpg")}, paths)

	_, err = listImages(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestProcessBatch_Sequential(t *testing.T) {
	app := newTestApp(t)
	dir := t.TempDir()
	writeImages(t, dir, map[string]string{
		"1.jpg": "KOYO RAMEN",
		"2.jpg": "review me",
		"3.jpg": "low light",
		"4.jpg": "fail",
		"5.jpg": "",
	})
	paths, err := listImages(dir)
	require.NoError(t, err)

	var seen []string
	summary, err := app.processBatch(context.Background(), paths, 1, func(o *ScanOutcome) {
		seen = append(seen, filepath.Base(o.Source))
	})
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 2, summary.ManualReview)
	assert.Equal(t, 2, summary.Failed, "failing images are skipped, not fatal")
	assert.False(t, summary.Halted)
	assert.Equal(t, []string{"1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg"}, seen)
}

func TestProcessBatch_BudgetHalts(t *testing.T) {
	app := newTestApp(t)
	dir := t.TempDir()
	writeImages(t, dir, map[string]string{
		"1.jpg": "KOYO RAMEN",
		"2.jpg": "over budget",
		"3.jpg": "MILK",
		"4.jpg": "EGGS",
	})
	paths, err := listImages(dir)
	require.NoError(t, err)

	summary, err := app.processBatch(context.Background(), paths, 1, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, scanerr.ErrBudgetExceeded)
	assert.True(t, summary.Halted)
	assert.Len(t, summary.Outcomes, 2)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestProcessBatch_Parallel(t *testing.T) {
	app := newTestApp(t)
	dir := t.TempDir()
	files := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		files[name+".jpg"] = "PRODUCT " + name
	}
	writeImages(t, dir, files)
	paths, err := listImages(dir)
	require.NoError(t, err)

	summary, err := app.processBatch(context.Background(), paths, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Succeeded)
	assert.Len(t, summary.Outcomes, 6)

	records, err := GetScanRecords(app.Database, "", 0)
	require.NoError(t, err)
	assert.Len(t, records, 6)
}

func TestPrintSummary(t *testing.T) {
	color.NoColor = true

	app := newTestApp(t)
	dir := t.TempDir()
	writeImages(t, dir, map[string]string{
		"1.jpg": "KOYO RAMEN",
		"2.jpg": "review me",
		"3.jpg": "fail",
	})
	paths, err := listImages(dir)
	require.NoError(t, err)
	summary, err := app.processBatch(context.Background(), paths, 1, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	printSummary(&buf, summary)
	out := buf.String()
	assert.Contains(t, out, "OK 1.jpg: KOYO RAMEN (0.90)")
	assert.Contains(t, out, "REVIEW 2.jpg")
	assert.Contains(t, out, "FAILED 3.jpg")
	assert.Contains(t, out, "1 succeeded, 1 manual review, 1 failed")
}
