package core

import (
	"bufio"
	"os"
	"regexp"
	"strings"

	"slicer-backend/pkg/api"
)

// The marker strings and patterns below are the de facto contract with the
// engine's human readable g-code output. They must match the engine's current
// format exactly; do not "clean them up".
const (
	headerBlockStart = "; HEADER_BLOCK_START"
	headerBlockEnd   = "; HEADER_BLOCK_END"
	configBlockStart = "; CONFIG_BLOCK_START"
)

var (
	printTimePattern = regexp.MustCompile(`^; model printing time: (.+); total estimated time: (.+)$`)
	filamentPattern  = regexp.MustCompile(`^; filament (used \[mm\]|used \[cm3\]|used \[g\]|cost) = (.+)$`)
)

type GcodeMetadata struct {
	Times    api.PrintTimes
	Filament api.FilamentUsage
}

// ExtractGcodeMetadata scrapes print time and filament usage out of a g-code
// file. Time data is mandatory: a missing header block or a malformed time
// line is a parse failure. Filament fields are optional and the last
// occurrence of each key wins.
func ExtractGcodeMetadata(path string) (GcodeMetadata, *SliceError) {
	file, err := os.Open(path)
	if err != nil {
		return GcodeMetadata{}, Errf(ErrParseFailure, "unable to open g-code file").WithDetail(err.Error())
	}
	defer file.Close()

	var meta GcodeMetadata
	var inHeader, sawHeader, inConfig, sawTimes bool

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		switch line {
		case headerBlockStart:
			inHeader = true
			sawHeader = true
			continue
		case headerBlockEnd:
			inHeader = false
			continue
		case configBlockStart:
			inConfig = true
			continue
		}

		if inHeader && !sawTimes {
			if m := printTimePattern.FindStringSubmatch(line); m != nil {
				model := strings.TrimSpace(m[1])
				total := strings.TrimSpace(m[2])
				if model == "" || total == "" {
					return GcodeMetadata{}, Errf(ErrParseFailure, "incomplete print time line in g-code header")
				}
				meta.Times = api.PrintTimes{Model: model, Total: total}
				sawTimes = true
			}
		}

		if inConfig {
			if m := filamentPattern.FindStringSubmatch(line); m != nil {
				value := strings.TrimSpace(m[2])
				switch m[1] {
				case "used [mm]":
					meta.Filament.UsedMM = value
				case "used [cm3]":
					meta.Filament.UsedCM3 = value
				case "used [g]":
					meta.Filament.UsedG = value
				case "cost":
					meta.Filament.Cost = value
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return GcodeMetadata{}, Errf(ErrParseFailure, "error reading g-code file").WithDetail(err.Error())
	}

	if !sawHeader {
		return GcodeMetadata{}, Errf(ErrParseFailure, "g-code header block not found")
	}
	if !sawTimes {
		return GcodeMetadata{}, Errf(ErrParseFailure, "print time line not found in g-code header")
	}

	return meta, nil
}
