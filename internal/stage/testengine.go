package stage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"regexp"
	"strings"
	"text/template"
)

var (
	ErrUnsupportedFile     = errors.New("no test framework for file type")
	ErrNoTestableFunctions = errors.New("file has no exported functions")
)

type detectionSignal struct {
	method     string
	confidence float64
	pattern    *regexp.Regexp
	inCommit   bool
}

const assistants = `copilot|claude|cursor|chatgpt|codeium|tabnine|devin|aider|gemini`

var detectionSignals = []detectionSignal{
	{
		method:     "commit-trailer",
		confidence: 0.9,
		pattern:    regexp.MustCompile(`(?im)^co-authored-by:.*\b(` + assistants + `)\b`),
		inCommit:   true,
	},
	{
		method:     "commit-message",
		confidence: 0.7,
		pattern:    regexp.MustCompile(`(?i)\b(generated|written|created)\s+(by|with)\s+(an?\s+)?(ai|` + assistants + `)\b`),
		inCommit:   true,
	},
	{
		method:     "content-marker",
		confidence: 0.8,
		pattern:    regexp.MustCompile(`(?i)(ai-generated|\b(generated|written)\s+(by|with)\s+(github\s+)?(an?\s+)?(ai|` + assistants + `)\b)`),
	},
}

// HeuristicTestEngine flags AI-touched files from commit trailers and content
// markers and generates test skeletons for their exported functions.
type HeuristicTestEngine struct{}

func NewHeuristicTestEngine() *HeuristicTestEngine {
	return &HeuristicTestEngine{}
}

func (te *HeuristicTestEngine) DetectAITouchedFiles(
	ctx context.Context,
	repositoryID string,
	files []CommitFile,
) ([]Detection, error) {
	detections := make([]Detection, 0)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		miss := 1.0
		var methods []string
		for _, signal := range detectionSignals {
			text := f.Content
			if signal.inCommit {
				text = f.CommitMessage
			}
			if signal.pattern.MatchString(text) {
				miss *= 1 - signal.confidence
				methods = append(methods, signal.method)
			}
		}
		if len(methods) == 0 {
			continue
		}
		detections = append(detections, Detection{
			Path:       f.Path,
			Confidence: math.Round((1-miss)*100) / 100,
			Methods:    methods,
		})
	}
	return detections, nil
}

type language struct {
	framework string
	functions *regexp.Regexp
	placement func(filePath string) string
	template  *template.Template
}

var (
	jsFunctions = regexp.MustCompile(`(?m)^export\s+(?:default\s+)?(?:async\s+)?(?:function\s+(\w+)|const\s+(\w+)\s*=)`)
	goFunctions = regexp.MustCompile(`(?m)^func\s+(\p{Lu}\w*)\s*\(`)
	pyFunctions = regexp.MustCompile(`(?m)^def\s+([a-zA-Z]\w*)\s*\(`)
	goPackage   = regexp.MustCompile(`(?m)^package\s+(\w+)`)
)

var templateFuncs = template.FuncMap{"join": strings.Join}

var jestTemplate = template.Must(template.New("jest").Funcs(templateFuncs).Parse(
	`import { {{join .Functions ", "}} } from "./{{.Module}}";
{{range .Functions}}
describe("{{.}}", () => {
  it("behaves as expected", () => {
    expect({{.}}).toBeDefined();
  });
});
{{end}}`))

var goTemplate = template.Must(template.New("go").Parse(
	`package {{.Package}}

import "testing"
{{range .Functions}}
func Test{{.}}(t *testing.T) {
	t.Skip("generated skeleton for {{.}}")
}
{{end}}`))

var pytestTemplate = template.Must(template.New("pytest").Funcs(templateFuncs).Parse(
	`from {{.Module}} import {{join .Functions ", "}}
{{range .Functions}}

def test_{{.}}():
    assert callable({{.}})
{{end}}`))

var (
	jest   = language{framework: "jest", functions: jsFunctions, placement: jsPlacement, template: jestTemplate}
	goTest = language{framework: "go test", functions: goFunctions, placement: goPlacement, template: goTemplate}
	pytest = language{framework: "pytest", functions: pyFunctions, placement: pyPlacement, template: pytestTemplate}
)

var languages = map[string]language{
	".ts":  jest,
	".tsx": jest,
	".js":  jest,
	".jsx": jest,
	".go":  goTest,
	".py":  pytest,
}

func jsPlacement(p string) string {
	ext := path.Ext(p)
	return strings.TrimSuffix(p, ext) + ".test" + ext
}

func goPlacement(p string) string {
	return strings.TrimSuffix(p, ".go") + "_test.go"
}

func pyPlacement(p string) string {
	return path.Join(path.Dir(p), "tests", "test_"+path.Base(p))
}

type testTemplateData struct {
	Module    string
	Package   string
	Functions []string
}

func (te *HeuristicTestEngine) GenerateTests(ctx context.Context, req TestRequest) (*GeneratedTest, error) {
	lang, ok := languages[path.Ext(req.FilePath)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, req.FilePath)
	}

	var functions []string
	for _, m := range lang.functions.FindAllStringSubmatch(req.FileContent, -1) {
		for _, name := range m[1:] {
			if name != "" {
				functions = append(functions, name)
			}
		}
	}
	if len(functions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTestableFunctions, req.FilePath)
	}

	data := testTemplateData{
		Module:    strings.TrimSuffix(path.Base(req.FilePath), path.Ext(req.FilePath)),
		Functions: functions,
	}
	if m := goPackage.FindStringSubmatch(req.FileContent); m != nil {
		data.Package = m[1]
	}

	var buf bytes.Buffer
	if err := lang.template.Execute(&buf, data); err != nil {
		return nil, err
	}
	return &GeneratedTest{
		TestContent: buf.String(),
		Framework:   lang.framework,
		Placement:   lang.placement(req.FilePath),
	}, nil
}
