package artifacts

import (
	"strings"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`, true},
		{"prose around object", `Here is the plan:\n{"a": 1}\nHope that helps!`, `{"a": 1}`, true},
		{"fenced object", "```json\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"no object", "no braces here", "", false},
		{"invalid json", `{"a": }`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractJSON(tc.in)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCleanResponse(t *testing.T) {
	p := NewParser()

	// A single outer fence is unwrapped.
	got := p.CleanResponse("```python\ndef add(a, b):\n    return a + b\n```")
	if strings.Contains(got, "```") {
		t.Errorf("outer fence not removed: %q", got)
	}

	// Interior fences survive for the pairing strategies.
	multi := "# main.py\n```python\nx = 1\n```\n\n# utils.py\n```python\ny = 2\n```"
	got = p.CleanResponse(multi)
	if strings.Count(got, "```") != 4 {
		t.Errorf("interior fences should survive, got %q", got)
	}

	// Backticked filenames are unwrapped.
	got = p.CleanResponse("fix `main.py` and `utils.py`")
	if strings.Contains(got, "`") {
		t.Errorf("inline backticks not removed: %q", got)
	}
}

const canonicalPlanJSON = `{
  "analysis": {
    "components": ["calculator", "formatter", "data"],
    "dependencies": [],
    "architecture_type": "CLI",
    "complexity": "simple",
    "summary": "A calculator that adds two integers"
  },
  "file_structure": {
    "files": {
      "main.py": "Entry point with Calculator class",
      "utils.py": "Formatting helpers",
      "test_data.py": "Example inputs"
    },
    "entry_point": "main.py",
    "class_definitions": {"Calculator": "main.py"}
  },
  "detailed_plan": {
    "main.py": {"purpose": "core", "classes": ["Calculator"], "functions": ["add"], "key_logic": ["integer addition"]}
  }
}`

func TestParseArchitectureCanonical(t *testing.T) {
	p := NewParser()

	plan, ok := p.ParseArchitecture(canonicalPlanJSON, "a calculator that adds two integers")
	if !ok {
		t.Fatal("canonical JSON should parse")
	}
	if plan.Fallback {
		t.Error("canonical plan should not be marked fallback")
	}
	if plan.Requirements != "a calculator that adds two integers" {
		t.Errorf("requirements not stamped: %q", plan.Requirements)
	}
	if len(plan.Analysis.Components) != 3 {
		t.Errorf("components = %v", plan.Analysis.Components)
	}
	if plan.FileStructure.EntryPoint != "main.py" {
		t.Errorf("entry point = %q", plan.FileStructure.EntryPoint)
	}
	if len(plan.FileStructure.Files) != 3 {
		t.Errorf("files = %v", plan.FileStructure.Files)
	}
	if plan.DetailedPlan["main.py"].Purpose != "core" {
		t.Errorf("detailed plan lost: %+v", plan.DetailedPlan)
	}
	if plan.Timestamp == "" {
		t.Error("timestamp not set")
	}
}

func TestParseArchitectureFencedAndWrapped(t *testing.T) {
	p := NewParser()

	wrapped := "Sure! Here is the architecture:\n```json\n" + canonicalPlanJSON + "\n```\nLet me know if you need changes."
	plan, ok := p.ParseArchitecture(wrapped, "req")
	if !ok {
		t.Fatal("fenced JSON with prose should parse")
	}
	if plan.FileStructure.EntryPoint != "main.py" {
		t.Errorf("entry point = %q", plan.FileStructure.EntryPoint)
	}
}

func TestParseArchitecturePartial(t *testing.T) {
	p := NewParser()

	// file_structure present, analysis missing: partially-valid result.
	partial := `{"file_structure": {"files": {"app.py": "everything"}, "entry_point": "app.py"}}`
	plan, ok := p.ParseArchitecture(partial, "req")
	if !ok {
		t.Fatal("partial JSON should still parse")
	}
	if plan.FileStructure.EntryPoint != "app.py" {
		t.Errorf("entry point = %q", plan.FileStructure.EntryPoint)
	}
	if plan.Analysis.Summary != "" {
		t.Errorf("analysis should be zero valued, got %+v", plan.Analysis)
	}
}

func TestParseArchitectureRepairsEntryPoint(t *testing.T) {
	p := NewParser()

	// Entry point names a file the plan does not contain.
	bad := `{"file_structure": {"files": {"main.py": "entry", "utils.py": "helpers"}, "entry_point": "app.py"}}`
	plan, ok := p.ParseArchitecture(bad, "req")
	if !ok {
		t.Fatal("should parse")
	}
	if plan.FileStructure.EntryPoint != "main.py" {
		t.Errorf("entry point should be repaired to main.py, got %q", plan.FileStructure.EntryPoint)
	}

	// No main.py: falls back to first sorted filename.
	bad = `{"file_structure": {"files": {"zeta.py": "z", "alpha.py": "a"}, "entry_point": "gone.py"}}`
	plan, _ = p.ParseArchitecture(bad, "req")
	if plan.FileStructure.EntryPoint != "alpha.py" {
		t.Errorf("entry point = %q, want alpha.py", plan.FileStructure.EntryPoint)
	}
}

func TestParseArchitectureFallback(t *testing.T) {
	p := NewParser()

	for _, in := range []string{
		"I could not produce a plan, sorry.",
		`{"unrelated": true}`,
		"```json\nnot json at all\n```",
	} {
		plan, ok := p.ParseArchitecture(in, "build a calculator")
		if ok {
			t.Errorf("input %q should not parse as a plan", in)
		}
		if !plan.Fallback {
			t.Error("fallback plan should be flagged")
		}
		if plan.FileStructure.EntryPoint != DefaultEntryPoint {
			t.Errorf("fallback entry point = %q", plan.FileStructure.EntryPoint)
		}
		if _, hasEntry := plan.FileStructure.Files[DefaultEntryPoint]; !hasEntry {
			t.Error("fallback plan must contain the entry point")
		}
		if plan.Requirements != "build a calculator" {
			t.Errorf("requirements not carried into fallback: %q", plan.Requirements)
		}
	}
}

func TestParseCodePackageJSON(t *testing.T) {
	p := NewParser()

	direct := `{"main.py": "def add(a, b):\n    return a + b\n\nclass Calculator:\n    pass", "utils.py": "def fmt(x):\n    return str(x) + '!'"}`
	files := p.ParseCodePackage(direct, nil)
	if len(files) != 2 {
		t.Fatalf("files = %v", files)
	}
	if !strings.Contains(files["main.py"], "def add") {
		t.Errorf("main.py content lost: %q", files["main.py"])
	}

	nested := `{"files": {"main.py": "def add(a, b):\n    return a + b\n# more lines here"}}`
	files = p.ParseCodePackage(nested, nil)
	if len(files) != 1 || !strings.Contains(files["main.py"], "def add") {
		t.Errorf("nested files key not handled: %v", files)
	}
}

func TestParseCodePackageFencedFileContents(t *testing.T) {
	p := NewParser()

	// Model wrapped each value in its own fence inside the JSON.
	in := `{"main.py": "` + "```python\\ndef add(a, b):\\n    return a + b\\nprint('ready')\\n```" + `"}`
	files := p.ParseCodePackage(in, nil)
	if len(files) != 1 {
		t.Fatalf("files = %v", files)
	}
	if strings.Contains(files["main.py"], "```") {
		t.Errorf("fences should be stripped from file bodies: %q", files["main.py"])
	}
}

func TestParseCodePackageRejectsShortSources(t *testing.T) {
	p := NewParser()

	in := `{"main.py": "x = 1", "README.md": "# Calc"}`
	files := p.ParseCodePackage(in, nil)
	if _, ok := files["main.py"]; ok {
		t.Error("sub-20-char source file should be rejected")
	}
	if _, ok := files["README.md"]; !ok {
		t.Error("docs files are exempt from the code length floor")
	}
}

func TestParseCodePackageMarkerFallback(t *testing.T) {
	p := NewParser()

	in := "FILE_START: main.py\ndef add(a, b):\n    return a + b\n\nprint(add(2, 3))\nFILE_END"
	files := p.ParseCodePackage(in, nil)
	if len(files) != 1 || !strings.Contains(files["main.py"], "def add") {
		t.Errorf("marker fallback failed: %v", files)
	}
}

func TestParseCodePackageExpectedPairing(t *testing.T) {
	p := NewParser()

	in := "First file:\n```python\nclass Store:\n    def __init__(self):\n        self.items = {}\n```\nSecond file:\n```python\nHELPERS = {'a': 1, 'b': 2}\nEXTRA = [1, 2, 3]\n```"
	files := p.ParseCodePackage(in, []string{"store.py", "data.py"})
	if len(files) != 2 {
		t.Fatalf("files = %v", files)
	}
	if !strings.Contains(files["store.py"], "class Store") {
		t.Errorf("positional pairing wrong: %v", files)
	}
	if !strings.Contains(files["data.py"], "HELPERS") {
		t.Errorf("positional pairing wrong: %v", files)
	}
}

func TestParseDebugResponseMarkers(t *testing.T) {
	p := NewParser()

	in := `ANALYSIS_START
The bug: factorial(0) returns 0 instead of 1.
ANALYSIS_END

FILE_START: main.py
def factorial(n):
    if n < 0:
        raise ValueError("negative")
    if n == 0:
        return 1
    return n * factorial(n - 1)
FILE_END`

	resp := p.ParseDebugResponse(in)
	if !strings.Contains(resp.AnalysisSummary, "factorial(0)") {
		t.Errorf("analysis = %q", resp.AnalysisSummary)
	}
	if strings.Contains(resp.AnalysisSummary, "ANALYSIS_START") {
		t.Errorf("markers should not leak into the summary: %q", resp.AnalysisSummary)
	}
	if !strings.Contains(resp.FixedFiles["main.py"], "return 1") {
		t.Errorf("fixed files = %v", resp.FixedFiles)
	}
}

func TestParseDebugResponseMarkerVariants(t *testing.T) {
	p := NewParser()

	cases := []string{
		"FILE_START : main.py\ndef f():\n    return 42  # the answer\nFILE_END",
		"FILE-START: main.py\ndef f():\n    return 42  # the answer\nFILE-END",
		"file_start: main.py\ndef f():\n    return 42  # the answer\nfile_end",
	}
	for _, in := range cases {
		resp := p.ParseDebugResponse(in)
		if len(resp.FixedFiles) != 1 {
			t.Errorf("variant %q: files = %v", in[:20], resp.FixedFiles)
		}
	}
}

func TestParseDebugResponseHeaderWithFence(t *testing.T) {
	p := NewParser()

	for _, in := range []string{
		"# main.py\n```python\ndef f():\n    return 'fixed value'\n```",
		"## main.py\n```python\ndef f():\n    return 'fixed value'\n```",
		"**main.py**\n```python\ndef f():\n    return 'fixed value'\n```",
	} {
		resp := p.ParseDebugResponse(in)
		if !strings.Contains(resp.FixedFiles["main.py"], "fixed value") {
			t.Errorf("header form %q: files = %v", in[:12], resp.FixedFiles)
		}
	}
}

func TestParseDebugResponseSectionHeaders(t *testing.T) {
	p := NewParser()

	in := "=== main.py ===\ndef f():\n    return 'from equals section'\n\n=== utils.py ===\ndef g():\n    return 'second section here'\n"
	resp := p.ParseDebugResponse(in)
	if len(resp.FixedFiles) != 2 {
		t.Fatalf("files = %v", resp.FixedFiles)
	}
	if !strings.Contains(resp.FixedFiles["main.py"], "equals section") {
		t.Errorf("main.py = %q", resp.FixedFiles["main.py"])
	}

	in = "main.py:\ndef f():\n    return 'colon header form'\n"
	resp = p.ParseDebugResponse(in)
	if !strings.Contains(resp.FixedFiles["main.py"], "colon header") {
		t.Errorf("colon form: %v", resp.FixedFiles)
	}
}

func TestParseDebugResponseHeuristic(t *testing.T) {
	p := NewParser()

	// No filenames anywhere: content markers drive the guess.
	in := "```python\nimport pytest\n\ndef test_add():\n    assert add(2, 3) == 5\n```"
	resp := p.ParseDebugResponse(in)
	if _, ok := resp.FixedFiles[DefaultTestFile]; !ok {
		t.Errorf("pytest content should map to %s: %v", DefaultTestFile, resp.FixedFiles)
	}

	in = "```python\ndef main():\n    print('hello from entry')\n```"
	resp = p.ParseDebugResponse(in)
	if _, ok := resp.FixedFiles[DefaultEntryPoint]; !ok {
		t.Errorf("main content should map to %s: %v", DefaultEntryPoint, resp.FixedFiles)
	}
}

func TestParseDebugResponseUnfencedCode(t *testing.T) {
	p := NewParser()

	in := `The fix is simple:

def factorial(n):
    if n < 0:
        raise ValueError("negative input")
    result = 1
    for i in range(2, n + 1):
        result *= i
    return result

That resolves the failing case.`
	resp := p.ParseDebugResponse(in)
	if len(resp.FixedFiles) == 0 {
		t.Fatal("plain code run should be recovered")
	}
	for _, content := range resp.FixedFiles {
		if !strings.Contains(content, "result *= i") {
			t.Errorf("content = %q", content)
		}
	}
}

func TestParseDebugResponseDuplicateNames(t *testing.T) {
	p := NewParser()

	in := "FILE_START: main.py\ndef f():\n    return 'first version here'\nFILE_END\nFILE_START: main.py\ndef f():\n    return 'second version here'\nFILE_END"
	resp := p.ParseDebugResponse(in)
	if len(resp.FixedFiles) != 2 {
		t.Fatalf("duplicates should be disambiguated: %v", resp.FixedFiles)
	}
	if _, ok := resp.FixedFiles["main_1.py"]; !ok {
		t.Errorf("expected main_1.py: %v", resp.FixedFiles)
	}
}

func TestParseDebugResponseNothingExtractable(t *testing.T) {
	p := NewParser()

	resp := p.ParseDebugResponse("I am not sure what is wrong.")
	if len(resp.FixedFiles) != 0 {
		t.Errorf("expected no files: %v", resp.FixedFiles)
	}
	if resp.AnalysisSummary != "No analysis found" {
		t.Errorf("summary = %q", resp.AnalysisSummary)
	}
}

func TestParseDebugResponseKeywordAnalysis(t *testing.T) {
	p := NewParser()

	in := "The problem is a missing base case.\nThis fix adds one.\n\nFILE_START: main.py\ndef f():\n    return 'patched version'\nFILE_END"
	resp := p.ParseDebugResponse(in)
	if !strings.Contains(resp.AnalysisSummary, "problem") {
		t.Errorf("keyword analysis missed: %q", resp.AnalysisSummary)
	}
}

func TestParseFailureAnalysis(t *testing.T) {
	p := NewParser()

	fa := p.ParseFailureAnalysis(`{"issues": ["assertion mismatch in test_add"], "summary": "one failing test"}`)
	if len(fa.Issues) != 1 || fa.Summary != "one failing test" {
		t.Errorf("json analysis = %+v", fa)
	}

	fa = p.ParseFailureAnalysis("There is an error in main.py.\nAll good otherwise.")
	if len(fa.Issues) != 1 {
		t.Errorf("keyword issues = %v", fa.Issues)
	}
}

func TestCodePackageOverlay(t *testing.T) {
	orig := &CodePackage{
		Files:      map[string]string{"main.py": "old", "utils.py": "keep"},
		EntryPoint: "main.py",
	}
	patched := orig.Overlay(map[string]string{"main.py": "new"})

	if orig.Files["main.py"] != "old" {
		t.Error("overlay must not mutate the receiver")
	}
	if patched.Files["main.py"] != "new" || patched.Files["utils.py"] != "keep" {
		t.Errorf("patched = %v", patched.Files)
	}
	if patched.EntryPoint != "main.py" {
		t.Errorf("entry point lost: %q", patched.EntryPoint)
	}
}

func TestCodePackageValidate(t *testing.T) {
	cp := &CodePackage{
		Files:      map[string]string{"main.py": "def main():\n    pass"},
		EntryPoint: "main.py",
	}
	if err := cp.Validate(); err != nil {
		t.Errorf("valid package rejected: %v", err)
	}

	cp = &CodePackage{Files: map[string]string{"other.py": "x"}, EntryPoint: "main.py"}
	if err := cp.Validate(); err == nil {
		t.Error("missing entry point should fail validation")
	}

	cp = &CodePackage{Files: map[string]string{"main.py": "   "}, EntryPoint: "main.py"}
	if err := cp.Validate(); err == nil {
		t.Error("empty file should fail validation")
	}
}

func TestSourceFilenamesOrder(t *testing.T) {
	plan := &ArchitecturalPlan{
		FileStructure: FileStructure{
			Files: map[string]string{
				"utils.py":     "helpers",
				"main.py":      "entry",
				"test_data.py": "data",
				"README.md":    "docs",
			},
			EntryPoint: "main.py",
		},
	}
	names := plan.SourceFilenames()
	if len(names) != 3 {
		t.Fatalf("names = %v", names)
	}
	if names[0] != "main.py" {
		t.Errorf("entry point must come first: %v", names)
	}
	for _, n := range names {
		if n == "README.md" {
			t.Error("docs files are not source files")
		}
	}
}
