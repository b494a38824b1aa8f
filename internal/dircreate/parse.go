package dircreate

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/rendis/pinnacle/pkg/schema"
)

// Line prefixes of the directory tool's output protocol.
const (
	prefixLog      = "FLOWDIR_LOG:"
	prefixProgress = "FLOWDIR_PROGRESS:"
	prefixSummary  = "FLOWDIR_SUMMARY:"
	prefixError    = "FLOWDIR_ERROR:"
)

// Progress is one FLOWDIR_PROGRESS line.
type Progress struct {
	Step        int    `json:"step"`
	Total       int    `json:"total"`
	Description string `json:"description"`
}

// Output is the parsed stdout of one tool run.
type Output struct {
	Logs         []string
	Errors       []string
	Progress     []Progress
	Summary      schema.FlowdirSummary
	DirPaths     []string
	FilePaths    []string
	SymlinkPaths []string

	// created* collect FLOWDIR_LOG entries, used when the summary lists no paths.
	createdDirs     []string
	createdFiles    []string
	createdSymlinks []string
}

// CreatedPaths returns every created path: directories, then files, then symlinks.
func (o *Output) CreatedPaths() []string {
	dirs, files, links := o.DirPaths, o.FilePaths, o.SymlinkPaths
	if len(dirs)+len(files)+len(links) == 0 {
		dirs, files, links = o.createdDirs, o.createdFiles, o.createdSymlinks
	}
	out := make([]string, 0, len(dirs)+len(files)+len(links))
	out = append(out, dirs...)
	out = append(out, files...)
	return append(out, links...)
}

// Parse reads the tool's stdout. Lines outside the protocol are kept as logs.
func Parse(r io.Reader) (*Output, error) {
	out := &Output{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case strings.HasPrefix(line, prefixLog):
			out.parseLog(strings.TrimPrefix(line, prefixLog))
			out.Logs = append(out.Logs, line)
		case strings.HasPrefix(line, prefixProgress):
			out.parseProgress(strings.TrimPrefix(line, prefixProgress))
		case strings.HasPrefix(line, prefixSummary):
			out.parseSummary(strings.TrimPrefix(line, prefixSummary))
		case strings.HasPrefix(line, prefixError):
			out.Errors = append(out.Errors, strings.TrimSpace(strings.TrimPrefix(line, prefixError)))
		case strings.TrimSpace(line) != "":
			out.Logs = append(out.Logs, line)
		}
	}
	return out, sc.Err()
}

// parseLog handles ACTION:STATUS:PATH. Paths may contain colons.
func (o *Output) parseLog(rest string) {
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 || parts[1] != "SUCCESS" {
		return
	}
	switch parts[0] {
	case "DIR_CREATED":
		o.createdDirs = append(o.createdDirs, parts[2])
	case "FILE_CREATED":
		o.createdFiles = append(o.createdFiles, parts[2])
	case "SYMLINK_CREATED":
		o.createdSymlinks = append(o.createdSymlinks, parts[2])
	}
}

// parseProgress handles STEP/TOTAL:DESCRIPTION.
func (o *Output) parseProgress(rest string) {
	counts, desc, _ := strings.Cut(rest, ":")
	stepStr, totalStr, ok := strings.Cut(counts, "/")
	if !ok {
		return
	}
	step, err1 := strconv.Atoi(stepStr)
	total, err2 := strconv.Atoi(totalStr)
	if err1 != nil || err2 != nil {
		return
	}
	o.Progress = append(o.Progress, Progress{Step: step, Total: total, Description: desc})
}

// parseSummary handles KEY:VALUE.
func (o *Output) parseSummary(rest string) {
	key, value, ok := strings.Cut(rest, ":")
	if !ok {
		return
	}
	s := &o.Summary
	switch key {
	case "PROJECT":
		s.Project = value
	case "BLOCK":
		s.Block = value
	case "RUN":
		s.Run = value
	case "TOOL":
		s.Tool = value
	case "TOTAL_DIRS":
		s.TotalDirs = atoiPtr(value)
	case "TOTAL_FILES":
		s.TotalFiles = atoiPtr(value)
	case "TOTAL_SYMLINKS":
		s.TotalSymlinks = atoiPtr(value)
	case "DIR_PATH":
		o.DirPaths = append(o.DirPaths, value)
	case "FILE_PATH":
		o.FilePaths = append(o.FilePaths, value)
	case "SYMLINK_PATH":
		o.SymlinkPaths = append(o.SymlinkPaths, value)
	}
}

func atoiPtr(s string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &n
}
