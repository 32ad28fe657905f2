package llm

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/lassestilvang/code-migration-autopilot/pkg/models"
)

type fakeGenerator struct {
	replies  map[string]string // keyed by a substring of the prompt
	fallback string
	err      error
	requests []Request
}

func (f *fakeGenerator) Generate(_ context.Context, req Request) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	for key, reply := range f.replies {
		if strings.Contains(req.Prompt, key) {
			return reply, nil
		}
	}
	return f.fallback, nil
}

func TestAnalyzeCode(t *testing.T) {
	gen := &fakeGenerator{fallback: "```json\n" + `{"summary":"counter","complexity":"Low","dependencies":["jquery"],"patterns":["dom"],"risks":[]}` + "\n```"}
	a := NewAgent(gen, nil)

	got, err := a.AnalyzeCode(context.Background(), "$('#x')", "jQuery", "React")
	if err != nil {
		t.Fatal(err)
	}
	want := models.Analysis{
		Summary:      "counter",
		Complexity:   models.ComplexityLow,
		Dependencies: []string{"jquery"},
		Patterns:     []string{"dom"},
		Risks:        []string{},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AnalyzeCode = %+v, want %+v", got, want)
	}

	req := gen.requests[0]
	if !req.JSON || req.ThinkingBudget != BudgetLight {
		t.Errorf("request = %+v", req)
	}
	for _, s := range []string{"written in jQuery", "migrating to React", "$('#x')"} {
		if !strings.Contains(req.Prompt, s) {
			t.Errorf("prompt missing %q", s)
		}
	}
}

func TestAnalyzeCodeFallback(t *testing.T) {
	a := NewAgent(&fakeGenerator{fallback: "not json"}, nil)
	got, err := a.AnalyzeCode(context.Background(), "x", "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != "Failed to generate analysis." || got.Complexity != models.ComplexityMedium {
		t.Errorf("fallback = %+v", got)
	}
	if !reflect.DeepEqual(got.Risks, []string{"JSON Parsing Failed"}) {
		t.Errorf("risks = %v", got.Risks)
	}
}

func TestAnalyzeCodeUnknownComplexity(t *testing.T) {
	a := NewAgent(&fakeGenerator{fallback: `{"summary":"s","complexity":"Extreme"}`}, nil)
	got, _ := a.AnalyzeCode(context.Background(), "x", "a", "b")
	if got.Complexity != models.ComplexityMedium {
		t.Errorf("complexity = %q", got.Complexity)
	}
	if got.Risks == nil || got.Dependencies == nil || got.Patterns == nil {
		t.Error("lists should be empty, not nil")
	}
}

func TestGeneratorErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	a := NewAgent(&fakeGenerator{err: boom}, nil)
	ctx := context.Background()

	if _, err := a.AnalyzeCode(ctx, "x", "a", "b"); !errors.Is(err, boom) {
		t.Errorf("AnalyzeCode err = %v", err)
	}
	if _, err := a.ConvertCode(ctx, "x", "a", "b", models.Analysis{}); !errors.Is(err, boom) {
		t.Errorf("ConvertCode err = %v", err)
	}
	if _, err := a.VerifyCode(ctx, "x", "a", "b"); !errors.Is(err, boom) {
		t.Errorf("VerifyCode err = %v", err)
	}
	if _, err := a.AnalyzeRepository(ctx, nil, "", ""); !errors.Is(err, boom) {
		t.Errorf("AnalyzeRepository err = %v", err)
	}
	if _, err := a.ScaffoldProject(ctx, "s", ""); !errors.Is(err, boom) {
		t.Errorf("ScaffoldProject err = %v", err)
	}
	if _, err := a.GenerateFile(ctx, "a.ts", "", ""); !errors.Is(err, boom) {
		t.Errorf("GenerateFile err = %v", err)
	}
}

func TestConvertCode(t *testing.T) {
	gen := &fakeGenerator{fallback: "```tsx\nexport const A = () => null;\n```"}
	a := NewAgent(gen, nil)

	got, err := a.ConvertCode(context.Background(), "src", "jQuery", "React", models.Analysis{Summary: "the summary"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "export const A = () => null;" {
		t.Errorf("ConvertCode = %q", got)
	}
	req := gen.requests[0]
	if req.JSON || req.ThinkingBudget != BudgetHeavy {
		t.Errorf("request = %+v", req)
	}
	if !strings.Contains(req.Prompt, `"summary":"the summary"`) {
		t.Errorf("prompt lacks analysis JSON:\n%s", req.Prompt)
	}
}

func TestVerifyCode(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  models.Verification
	}{
		{
			name:  "passed",
			reply: `{"passed":true,"issues":[]}`,
			want:  models.Verification{Passed: true, Issues: []string{}},
		},
		{
			name:  "passed ignores fix",
			reply: `{"passed":true,"fixedCode":"x"}`,
			want:  models.Verification{Passed: true, Issues: []string{}},
		},
		{
			name:  "failed with fix",
			reply: `{"passed":false,"issues":["unused var"],"fixedCode":"fixed();"}`,
			want:  models.Verification{Passed: false, Issues: []string{"unused var"}, FixedCode: "fixed();"},
		},
		{
			name:  "unparseable",
			reply: "LGTM",
			want:  models.Verification{Passed: true, Issues: []string{"Verification parsing failed"}},
		},
		{
			name:  "missing passed",
			reply: `{"issues":[]}`,
			want:  models.Verification{Passed: true, Issues: []string{"Verification parsing failed"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAgent(&fakeGenerator{fallback: tt.reply}, nil)
			got, err := a.VerifyCode(context.Background(), "code", "a", "b")
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("VerifyCode = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAnalyzeRepository(t *testing.T) {
	gen := &fakeGenerator{fallback: `{"summary":"todo app","complexity":"Low","detectedFramework":"jQuery","recommendedTarget":"React"}`}
	a := NewAgent(gen, nil)

	got, err := a.AnalyzeRepository(context.Background(), []string{"src/app.js", "README.md"}, "# Todo", "JavaScript: 1")
	if err != nil {
		t.Fatal(err)
	}
	if got.DetectedFramework != "jQuery" || got.RecommendedTarget != "React" || got.Summary != "todo app" {
		t.Errorf("AnalyzeRepository = %+v", got)
	}
	p := gen.requests[0].Prompt
	for _, s := range []string{`["src/app.js","README.md"]`, "# Todo", "JavaScript: 1"} {
		if !strings.Contains(p, s) {
			t.Errorf("prompt missing %q", s)
		}
	}
	if gen.requests[0].ThinkingBudget != BudgetHeavy {
		t.Errorf("thinking budget = %d", gen.requests[0].ThinkingBudget)
	}
}

func TestAnalyzeRepositoryFallback(t *testing.T) {
	a := NewAgent(&fakeGenerator{fallback: "{"}, nil)
	got, err := a.AnalyzeRepository(context.Background(), nil, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Complexity != models.ComplexityHigh || got.DetectedFramework != "Unknown" || got.RecommendedTarget != "Next.js + TypeScript" {
		t.Errorf("fallback = %+v", got)
	}
	if got.Summary != "Could not analyze repository structure automatically." {
		t.Errorf("summary = %q", got.Summary)
	}
}

func TestScaffoldProject(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{"list", `["package.json","/app/page.tsx"," ","lib/"]`, []string{"package.json", "app/page.tsx", "lib"}},
		{"unparseable", "package.json", FallbackScaffold},
		{"empty", "[]", FallbackScaffold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAgent(&fakeGenerator{fallback: tt.reply}, nil)
			got, err := a.ScaffoldProject(context.Background(), "summary", "")
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ScaffoldProject = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScaffoldFallbackIsCopied(t *testing.T) {
	a := NewAgent(&fakeGenerator{fallback: "?"}, nil)
	got, _ := a.ScaffoldProject(context.Background(), "s", "")
	got[0] = "changed"
	if FallbackScaffold[0] != "package.json" {
		t.Error("fallback list was modified through the result")
	}
}

func TestGenerateFileTruncatesContext(t *testing.T) {
	gen := &fakeGenerator{fallback: "```\nexport default function Page() {}\n```"}
	a := NewAgent(gen, NewBudget(wordTokenizer{}, 3))

	got, err := a.GenerateFile(context.Background(), "app/page.tsx", "one two three four five", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "export default function Page() {}" {
		t.Errorf("GenerateFile = %q", got)
	}
	p := gen.requests[0].Prompt
	if !strings.Contains(p, "one two three"+TruncationMarker) || strings.Contains(p, "four") {
		t.Errorf("context not truncated:\n%s", p)
	}
	if !strings.Contains(p, `"app/page.tsx"`) || !strings.Contains(p, "Next.js + TypeScript") {
		t.Errorf("prompt missing path or target:\n%s", p)
	}
}

func TestThinkingCap(t *testing.T) {
	gen := &fakeGenerator{fallback: "code"}
	a := NewAgent(gen, nil)
	a.SetThinkingCap(512)

	if _, err := a.ConvertCode(context.Background(), "x", "a", "b", models.Analysis{}); err != nil {
		t.Fatal(err)
	}
	if got := gen.requests[0].ThinkingBudget; got != 512 {
		t.Errorf("thinking budget = %d, want 512", got)
	}
}
