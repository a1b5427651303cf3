package core_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slicer-backend/internal/core"
)

func writeGcode(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "print.gcode")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const wellFormedGcode = `; HEADER_BLOCK_START
; BambuStudio 01.08.00.57
; model printing time: 1h 32m 10s; total estimated time: 1h 45m 3s
; HEADER_BLOCK_END
G28
G1 X10 Y10
; CONFIG_BLOCK_START
; filament used [mm] = 4210.57
; filament used [cm3] = 10.13
; filament used [g] = 12.56
; filament cost = 0.31
; CONFIG_BLOCK_END
`

func TestExtractGcodeMetadata(t *testing.T) {
	meta, serr := core.ExtractGcodeMetadata(writeGcode(t, wellFormedGcode))
	require.Nil(t, serr)

	assert.Equal(t, "1h 32m 10s", meta.Times.Model)
	assert.Equal(t, "1h 45m 3s", meta.Times.Total)
	assert.Equal(t, "4210.57", meta.Filament.UsedMM)
	assert.Equal(t, "10.13", meta.Filament.UsedCM3)
	assert.Equal(t, "12.56", meta.Filament.UsedG)
	assert.Equal(t, "0.31", meta.Filament.Cost)
}

func TestExtractGcodeMetadataCRLF(t *testing.T) {
	content := "; HEADER_BLOCK_START\r\n; model printing time: 10m 0s; total estimated time: 12m 0s\r\n; HEADER_BLOCK_END\r\n"
	meta, serr := core.ExtractGcodeMetadata(writeGcode(t, content))
	require.Nil(t, serr)
	assert.Equal(t, "10m 0s", meta.Times.Model)
	assert.Equal(t, "12m 0s", meta.Times.Total)
}

func TestExtractGcodeMetadataFilamentOptional(t *testing.T) {
	content := `; HEADER_BLOCK_START
; model printing time: 5m 0s; total estimated time: 6m 0s
; HEADER_BLOCK_END
G28
`
	meta, serr := core.ExtractGcodeMetadata(writeGcode(t, content))
	require.Nil(t, serr)
	assert.Empty(t, meta.Filament.UsedMM)
	assert.Empty(t, meta.Filament.Cost)
}

func TestExtractGcodeMetadataLastFilamentValueWins(t *testing.T) {
	content := `; HEADER_BLOCK_START
; model printing time: 5m 0s; total estimated time: 6m 0s
; HEADER_BLOCK_END
; CONFIG_BLOCK_START
; filament used [g] = 1.00
; filament used [g] = 2.00
`
	meta, serr := core.ExtractGcodeMetadata(writeGcode(t, content))
	require.Nil(t, serr)
	assert.Equal(t, "2.00", meta.Filament.UsedG)
}

func TestExtractGcodeMetadataMissingHeader(t *testing.T) {
	_, serr := core.ExtractGcodeMetadata(writeGcode(t, "G28\nG1 X0 Y0\n"))
	require.NotNil(t, serr)
	assert.Equal(t, core.ErrParseFailure, serr.Kind)
}

func TestExtractGcodeMetadataMissingTimes(t *testing.T) {
	content := `; HEADER_BLOCK_START
; BambuStudio 01.08.00.57
; HEADER_BLOCK_END
`
	_, serr := core.ExtractGcodeMetadata(writeGcode(t, content))
	require.NotNil(t, serr)
	assert.Equal(t, core.ErrParseFailure, serr.Kind)
}

func TestExtractGcodeMetadataEmptyTimeValues(t *testing.T) {
	content := "; HEADER_BLOCK_START\n; model printing time:  ; total estimated time:  \n; HEADER_BLOCK_END\n"
	_, serr := core.ExtractGcodeMetadata(writeGcode(t, content))
	require.NotNil(t, serr)
	assert.Equal(t, core.ErrParseFailure, serr.Kind)
}

func TestExtractGcodeMetadataTimeLineOutsideHeaderIgnored(t *testing.T) {
	content := `; HEADER_BLOCK_START
; HEADER_BLOCK_END
; model printing time: 5m 0s; total estimated time: 6m 0s
`
	_, serr := core.ExtractGcodeMetadata(writeGcode(t, content))
	require.NotNil(t, serr)
	assert.Equal(t, core.ErrParseFailure, serr.Kind)
}

func TestExtractGcodeMetadataMissingFile(t *testing.T) {
	_, serr := core.ExtractGcodeMetadata(filepath.Join(t.TempDir(), "nope.gcode"))
	require.NotNil(t, serr)
	assert.Equal(t, core.ErrParseFailure, serr.Kind)
}
