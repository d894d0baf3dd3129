package artifacts

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"aicoder/pkg/logx"
)

// minCodeLen is the floor below which extracted content is rejected as a
// code file.
const minCodeLen = 20

// Parser coerces free-form model output into structured artifacts. It is
// the single place that performs this coercion. Parse methods never fail
// hard: on total failure they return a documented skeleton (or an empty
// map) and report low confidence through a boolean or an empty result.
type Parser struct {
	logger *logx.Logger
}

// NewParser creates a parser with the standard component logger.
func NewParser() *Parser {
	return &Parser{logger: logx.NewLogger("parser")}
}

var (
	inlineFileRe = regexp.MustCompile("`([a-zA-Z0-9_]+\\.py)`")

	// Marker-delimited blocks, tolerant of spacing and hyphen/underscore
	// variants. Tried in order; first pattern that yields files wins.
	fileMarkerRes = []*regexp.Regexp{
		regexp.MustCompile(`(?is)FILE_START:\s*(.+?)\n(.*?)FILE_END`),
		regexp.MustCompile(`(?is)FILE_START\s*:\s*(.+?)(?:\n|\r\n)(.*?)FILE_END`),
		regexp.MustCompile(`(?is)FILE[-_]START:\s*(.+?)\n(.*?)FILE[-_]END`),
	}

	// "# name.py" / "## name.py" / "**name.py**" header followed by a fence.
	headerBlockRe = regexp.MustCompile("(?s)(?:#+[ \\t]*|\\*\\*)([a-zA-Z0-9_]+\\.py)\\**[ \\t]*\\n+```(?:python|py)?[ \\t]*\\n(.*?)\\n```")
	// "# name.py" as the first comment inside a fence.
	commentInBlockRe = regexp.MustCompile("(?s)```(?:python|py)?[ \\t]*\\n#[ \\t]*([a-zA-Z0-9_]+\\.py)[ \\t]*\\n(.*?)\\n```")
	// Any fenced block.
	fencedBlockRe = regexp.MustCompile("(?s)```(?:python|py)?[ \\t]*\\n(.*?)\\n```")
	pyFilenameRe  = regexp.MustCompile(`\b([a-zA-Z0-9_]+\.py)\b`)

	// Standalone section headers: === name.py ===, --- name.py ---,
	// [name.py], name.py: . Content runs to the next header or EOF.
	sectionHeaderRes = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^===+[ \t]*([a-zA-Z0-9_]+\.py)[ \t]*===+[ \t]*$`),
		regexp.MustCompile(`(?m)^---+[ \t]*([a-zA-Z0-9_]+\.py)[ \t]*---+[ \t]*$`),
		regexp.MustCompile(`(?m)^\[([a-zA-Z0-9_]+\.py)\][ \t]*$`),
		regexp.MustCompile(`(?m)^([a-zA-Z0-9_]+\.py):[ \t]*$`),
	}

	filenameHintRe = regexp.MustCompile(`(?i)(?:file(?:name)?|module):\s*([a-zA-Z0-9_]+\.py)`)
	codeLineRe     = regexp.MustCompile(`^(def |class |import |from |if |while |for |@)`)

	openFenceLineRe  = regexp.MustCompile("(?m)^```(?:python|py)?[ \\t]*\r?\n")
	closeFenceLineRe = regexp.MustCompile("(?m)\r?\n```[ \\t]*$")
)

var analysisKeywords = []string{"issue", "problem", "fix", "error", "bug"}

// CleanResponse removes markdown wrapping that models habitually add: a
// single outer code fence around the whole reply, and inline backticks
// around filenames. Fences around individual files survive so the
// filename-pairing strategies can still see them.
func (p *Parser) CleanResponse(text string) string {
	cleaned := stripOuterFence(strings.TrimSpace(text))
	return inlineFileRe.ReplaceAllString(cleaned, "$1")
}

// stripOuterFence unwraps text of the shape "```lang\n...\n```" where the
// fence pair wraps the entire body. Text with interior fences is returned
// unchanged.
func stripOuterFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") || strings.Count(t, "```") != 2 {
		return s
	}
	nl := strings.IndexByte(t, '\n')
	if nl < 0 || nl > len(t)-4 {
		return s
	}
	return strings.TrimSpace(t[nl+1 : len(t)-3])
}

// stripFenceLines removes fence open/close lines inside one extracted
// file's content.
func stripFenceLines(content string) string {
	content = openFenceLineRe.ReplaceAllString(content, "")
	content = closeFenceLineRe.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

// ExtractJSON locates the JSON object in a reply: unwrap an outer fence,
// then take the span from the first '{' to the last '}'. The span must be
// syntactically valid JSON.
func ExtractJSON(text string) (string, bool) {
	cleaned := stripOuterFence(strings.TrimSpace(text))
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return "", false
	}
	candidate := cleaned[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", false
	}
	return candidate, true
}

// FallbackPlan is the documented skeleton returned when no strategy could
// coerce the Architect's reply. The three-file layout mirrors what the
// Architect is prompted to produce.
func FallbackPlan(requirements string) *ArchitecturalPlan {
	return &ArchitecturalPlan{
		Requirements: requirements,
		Analysis: Analysis{
			Components:       []string{"main", "utils", "test_data"},
			Dependencies:     []string{},
			ArchitectureType: "CLI",
			Complexity:       "simple",
			Summary:          "Fallback plan synthesized after unparseable model output",
		},
		FileStructure: FileStructure{
			Files: map[string]string{
				DefaultEntryPoint: "Entry point containing all classes and core functions",
				"utils.py":        "Helper functions importing from main",
				"test_data.py":    "Static data used by the application",
			},
			EntryPoint:       DefaultEntryPoint,
			ClassDefinitions: map[string]string{},
		},
		Timestamp: Now(),
		Fallback:  true,
	}
}

// ParseArchitecture coerces an Architect reply into a plan. The boolean
// reports whether structured JSON actually parsed; when false the returned
// plan is the fallback skeleton and the stage should be treated as low
// confidence.
func (p *Parser) ParseArchitecture(text, requirements string) (*ArchitecturalPlan, bool) {
	raw, ok := ExtractJSON(text)
	if !ok {
		p.logger.Warn("no JSON object found in architecture response, using fallback plan")
		return FallbackPlan(requirements), false
	}

	var decoded struct {
		Analysis      *Analysis           `json:"analysis"`
		FileStructure *FileStructure      `json:"file_structure"`
		DetailedPlan  map[string]FilePlan `json:"detailed_plan"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		p.logger.Warn("architecture JSON decode failed: %v", err)
		return FallbackPlan(requirements), false
	}
	if decoded.Analysis == nil && decoded.FileStructure == nil {
		p.logger.Warn("architecture JSON has neither analysis nor file_structure")
		return FallbackPlan(requirements), false
	}

	plan := &ArchitecturalPlan{
		Requirements: requirements,
		DetailedPlan: decoded.DetailedPlan,
		Timestamp:    Now(),
	}
	if decoded.Analysis != nil {
		plan.Analysis = *decoded.Analysis
	}
	if decoded.FileStructure != nil {
		plan.FileStructure = *decoded.FileStructure
	}
	p.normalizePlan(plan)
	return plan, true
}

// normalizePlan repairs a partially-valid plan so downstream invariants
// hold: files non-empty, entry point a member of files. Component-count
// deviations are logged but tolerated.
func (p *Parser) normalizePlan(plan *ArchitecturalPlan) {
	fs := &plan.FileStructure
	if fs.Files == nil {
		fs.Files = map[string]string{}
	}
	if fs.ClassDefinitions == nil {
		fs.ClassDefinitions = map[string]string{}
	}
	if len(fs.Files) == 0 {
		fs.Files[DefaultEntryPoint] = "Entry point containing all classes and core functions"
	}
	if _, ok := fs.Files[fs.EntryPoint]; !ok {
		if _, hasMain := fs.Files[DefaultEntryPoint]; hasMain {
			fs.EntryPoint = DefaultEntryPoint
		} else {
			// Deterministic choice: first filename in sorted order.
			names := make([]string, 0, len(fs.Files))
			for name := range fs.Files {
				names = append(names, name)
			}
			fs.EntryPoint = minString(names)
		}
	}
	if n := len(plan.Analysis.Components); n != 3 {
		p.logger.Warn("plan names %d components, expected 3", n)
	}
}

func minString(names []string) string {
	m := names[0]
	for _, n := range names[1:] {
		if n < m {
			m = n
		}
	}
	return m
}

// ParseCodePackage extracts a filename-to-source mapping from a Coder
// reply. Strategy order: structured JSON, then the textual strategies
// shared with the debugger. An empty map means nothing parseable was
// found; the caller decides how to recover.
func (p *Parser) ParseCodePackage(text string, expected []string) map[string]string {
	if raw, ok := ExtractJSON(text); ok {
		if files := decodeCodeJSON(raw); len(files) > 0 {
			p.logger.Debug("parsed %d file(s) from JSON code package", len(files))
			return files
		}
	}

	cleaned := p.CleanResponse(text)
	if files := p.parseFileMarkers(cleaned); len(files) > 0 {
		return files
	}
	if files := p.parseMarkdownBlocks(cleaned); len(files) > 0 {
		return files
	}
	if files := p.parseFilenameHeaders(cleaned); len(files) > 0 {
		return files
	}
	return p.heuristicFiles(cleaned, expected)
}

// decodeCodeJSON accepts either {"files": {name: source}} or a direct
// {name: source} object, keeping only values that look like generated
// files.
func decodeCodeJSON(raw string) map[string]string {
	var withFiles struct {
		Files map[string]string `json:"files"`
	}
	if err := json.Unmarshal([]byte(raw), &withFiles); err == nil && len(withFiles.Files) > 0 {
		return sanitizeFiles(withFiles.Files)
	}

	var direct map[string]any
	if err := json.Unmarshal([]byte(raw), &direct); err != nil {
		return nil
	}
	files := map[string]string{}
	for name, v := range direct {
		content, isString := v.(string)
		if !isString {
			continue
		}
		if IsSourceFile(name) || IsDocsFile(name) {
			files[name] = content
		}
	}
	return sanitizeFiles(files)
}

// sanitizeFiles strips stray fences from each file body and drops source
// files too short to be real code.
func sanitizeFiles(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for name, content := range in {
		content = stripFenceLines(content)
		if content == "" {
			continue
		}
		if IsSourceFile(name) && len(content) < minCodeLen {
			continue
		}
		out[name] = content
	}
	return out
}

// ParseDebugResponse coerces a Debugger reply into an analysis summary and
// a set of fixed files, trying each strategy until one yields files.
func (p *Parser) ParseDebugResponse(text string) *DebugResponse {
	cleaned := p.CleanResponse(text)
	resp := &DebugResponse{
		AnalysisSummary: p.extractAnalysis(cleaned),
		FixedFiles:      map[string]string{},
	}

	strategies := []struct {
		name string
		fn   func(string) map[string]string
	}{
		{"file markers", p.parseFileMarkers},
		{"markdown code blocks", p.parseMarkdownBlocks},
		{"filename headers", p.parseFilenameHeaders},
		{"fallback heuristic", func(s string) map[string]string { return p.heuristicFiles(s, nil) }},
	}
	for i, s := range strategies {
		files := s.fn(cleaned)
		if len(files) > 0 {
			p.logger.Debug("strategy %d (%s) extracted %d file(s)", i+1, s.name, len(files))
			resp.FixedFiles = files
			break
		}
	}
	if len(resp.FixedFiles) == 0 {
		p.logger.Warn("all parsing strategies failed, no files extracted")
	}
	return resp
}

// ParseFailureAnalysis coerces a failure-triage reply into issues plus a
// summary, preferring a JSON object and falling back to keyword lines.
func (p *Parser) ParseFailureAnalysis(text string) *FailureAnalysis {
	if raw, ok := ExtractJSON(text); ok {
		var fa FailureAnalysis
		if err := json.Unmarshal([]byte(raw), &fa); err == nil && (len(fa.Issues) > 0 || fa.Summary != "") {
			return &fa
		}
	}

	var issues []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		for _, kw := range analysisKeywords {
			if strings.Contains(lower, kw) {
				issues = append(issues, trimmed)
				break
			}
		}
	}
	return &FailureAnalysis{
		Issues:  issues,
		Summary: p.extractAnalysis(text),
	}
}

// extractAnalysis pulls the ANALYSIS_START/ANALYSIS_END section, or falls
// back to keyword-bearing lines near the top of the reply.
func (p *Parser) extractAnalysis(text string) string {
	if start := strings.Index(text, "ANALYSIS_START"); start >= 0 {
		if end := strings.Index(text, "ANALYSIS_END"); end > start {
			return strings.TrimSpace(text[start+len("ANALYSIS_START") : end])
		}
	}

	lines := strings.Split(text, "\n")
	if len(lines) > 20 {
		lines = lines[:20]
	}
	var hits []string
	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, kw := range analysisKeywords {
			if strings.Contains(lower, kw) {
				hits = append(hits, line)
				break
			}
		}
	}
	if len(hits) > 0 {
		return strings.Join(hits, "\n")
	}
	return "No analysis found"
}

// parseFileMarkers handles FILE_START: name ... FILE_END blocks.
func (p *Parser) parseFileMarkers(text string) map[string]string {
	for _, re := range fileMarkerRes {
		files := map[string]string{}
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			name := strings.TrimSpace(m[1])
			content := stripFenceLines(strings.TrimSpace(m[2]))
			if name != "" && len(content) >= minCodeLen {
				putFile(files, name, content)
			}
		}
		if len(files) > 0 {
			return files
		}
	}
	return nil
}

// parseMarkdownBlocks pairs filename headers with fenced blocks, then
// looks for the filename as the first comment inside a block, then pairs
// mentioned filenames with blocks positionally when the counts line up.
func (p *Parser) parseMarkdownBlocks(text string) map[string]string {
	files := map[string]string{}

	for _, m := range headerBlockRe.FindAllStringSubmatch(text, -1) {
		content := strings.TrimSpace(m[2])
		if len(content) >= minCodeLen {
			putFile(files, strings.TrimSpace(m[1]), content)
		}
	}

	if len(files) == 0 {
		for _, m := range commentInBlockRe.FindAllStringSubmatch(text, -1) {
			content := strings.TrimSpace(m[2])
			if len(content) >= minCodeLen {
				putFile(files, strings.TrimSpace(m[1]), content)
			}
		}
	}

	if len(files) == 0 {
		mentioned := pyFilenameRe.FindAllString(text, -1)
		blocks := fencedBlockRe.FindAllStringSubmatch(text, -1)
		if len(mentioned) == len(blocks) {
			for i, m := range blocks {
				content := strings.TrimSpace(m[1])
				if len(content) >= minCodeLen {
					putFile(files, mentioned[i], content)
				}
			}
		}
	}

	return files
}

// parseFilenameHeaders handles standalone section headers. Each header's
// content runs until the next header of the same shape or end of text.
func (p *Parser) parseFilenameHeaders(text string) map[string]string {
	for _, re := range sectionHeaderRes {
		locs := re.FindAllStringSubmatchIndex(text, -1)
		if len(locs) == 0 {
			continue
		}
		files := map[string]string{}
		for i, loc := range locs {
			name := text[loc[2]:loc[3]]
			start := loc[1]
			end := len(text)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			content := stripFenceLines(strings.TrimSpace(text[start:end]))
			if len(content) >= minCodeLen {
				putFile(files, name, content)
			}
		}
		if len(files) > 0 {
			return files
		}
	}
	return nil
}

// heuristicFiles is the last resort: gather code blocks (fenced, or plain
// code-shaped line runs) and guess a filename for each. When the caller
// supplied expected filenames and the counts match, blocks are assigned
// positionally instead.
func (p *Parser) heuristicFiles(text string, expected []string) map[string]string {
	var blocks []string
	for _, m := range fencedBlockRe.FindAllStringSubmatch(text, -1) {
		blocks = append(blocks, m[1])
	}
	if len(blocks) == 0 {
		blocks = scanPlainCodeBlocks(text)
	}

	files := map[string]string{}

	if len(expected) > 0 && len(blocks) == len(expected) {
		for i, block := range blocks {
			block = strings.TrimSpace(block)
			if len(block) >= minCodeLen {
				putFile(files, expected[i], block)
			}
		}
		if len(files) > 0 {
			return files
		}
	}

	for i, block := range blocks {
		block = strings.TrimSpace(block)
		if len(block) < minCodeLen {
			continue
		}
		name := guessFilename(text, block, i)
		putFile(files, name, block)
		p.logger.Warn("heuristically identified file: %s", name)
	}
	return files
}

// guessFilename infers a filename for an anonymous code block: an explicit
// "filename:" hint inside the block, test/entry markers, a mention in the
// 200 characters preceding the block, then positional defaults.
func guessFilename(text, block string, index int) string {
	if m := filenameHintRe.FindStringSubmatch(block); m != nil {
		return m[1]
	}
	if strings.Contains(block, "import pytest") || strings.Contains(block, "def test_") || strings.Contains(block, "import unittest") {
		return DefaultTestFile
	}
	if strings.Contains(block, "if __name__") || strings.Contains(block, "def main(") {
		return DefaultEntryPoint
	}
	if pos := strings.Index(text, block); pos > 0 {
		lo := pos - 200
		if lo < 0 {
			lo = 0
		}
		if m := pyFilenameRe.FindStringSubmatch(text[lo:pos]); m != nil {
			return m[1]
		}
	}
	if index == 0 {
		return DefaultEntryPoint
	}
	return fmt.Sprintf("file_%d.py", index)
}

// scanPlainCodeBlocks finds unfenced code by walking lines: a run starts
// at a code-shaped line and continues through blank or indented lines.
// Runs longer than five lines count as blocks.
func scanPlainCodeBlocks(text string) []string {
	var blocks []string
	var current []string
	inCode := false

	flush := func() {
		if len(current) > 5 {
			blocks = append(blocks, strings.Join(current, "\n"))
		}
		current = nil
		inCode = false
	}

	for _, line := range strings.Split(text, "\n") {
		switch {
		case codeLineRe.MatchString(line):
			inCode = true
			current = append(current, line)
		case inCode && (strings.TrimSpace(line) == "" || strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")):
			current = append(current, line)
		case inCode:
			flush()
		}
	}
	flush()
	return blocks
}

// putFile inserts content under name, appending _<index> to the basename
// when the name is already taken.
func putFile(files map[string]string, name, content string) {
	if _, exists := files[name]; !exists {
		files[name] = content
		return
	}
	base := name
	ext := ""
	if dot := strings.LastIndex(name, "."); dot >= 0 {
		base, ext = name[:dot], name[dot:]
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", base, n, ext)
		if _, exists := files[candidate]; !exists {
			files[candidate] = content
			return
		}
	}
}
