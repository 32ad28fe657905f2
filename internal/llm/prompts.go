package llm

import (
	"strings"
	"text/template"
)

var prompts = template.Must(template.New("prompts").Parse(`
{{define "analysis"}}
You are an expert Senior Software Architect specializing in legacy code migration.
Analyze the following source code written in {{.SourceLang}}.
Identify the key logic, dependencies, state management patterns, and potential risks when migrating to {{.TargetLang}}.

Output strict JSON with this structure:
{
  "summary": "Brief executive summary of the code's purpose",
  "complexity": "Low" | "Medium" | "High",
  "dependencies": ["list", "of", "external", "libs"],
  "patterns": ["list", "of", "coding", "patterns", "identified"],
  "risks": ["list", "of", "potential", "migration", "risks"]
}

Source Code:
{{.SourceCode}}
{{end}}

{{define "conversion"}}
You are an autonomous coding agent.
Convert the following {{.SourceLang}} code to modern, clean, production-ready {{.TargetLang}}.
Use the analysis provided below to guide your refactoring decisions.
Follow the idioms of {{.TargetLang}} (for example Hooks for React, strict types for TypeScript).

Analysis:
{{.AnalysisJSON}}

Source Code:
{{.SourceCode}}

Output ONLY the converted code. Do not include markdown fences or explanations outside the code.
{{end}}

{{define "verification"}}
You are a QA Engineer and strict code reviewer.
Review the following {{.TargetLang}} code that was migrated from {{.SourceLang}}.

Check for:
1. Syntax errors.
2. Logic equivalence to the original intent (inferred).
3. Violations of {{.TargetLang}} conventions (untyped values, unused variables, leaks).

If the code is good, return JSON: { "passed": true, "issues": [] }
If there are issues, fix the code and return JSON: { "passed": false, "issues": ["description of issue"], "fixedCode": "FULL_FIXED_CODE_HERE" }

Code to Verify:
{{.TargetCode}}
{{end}}

{{define "repo"}}
You are a Principal Software Architect planning the migration of a legacy repository.
Below are the repository's file paths and its README.
{{- if .LanguageHint}}

Files by language: {{.LanguageHint}}
{{- end}}

Determine the framework the project is built with, summarize what it does, and recommend a modern target stack.

Output strict JSON with this structure:
{
  "summary": "What the project does and how it is organized",
  "complexity": "Low" | "Medium" | "High",
  "dependencies": ["external", "libraries"],
  "patterns": ["architectural", "patterns"],
  "risks": ["migration", "risks"],
  "detectedFramework": "Framework or language the project uses",
  "recommendedTarget": "Recommended target stack",
  "architectureDescription": "One paragraph describing the system's components and data flow"
}

File List:
{{.FileList}}

README:
{{.Readme}}
{{end}}

{{define "scaffold"}}
You are a senior engineer setting up a {{.TargetLang}} project that replaces a legacy application.

Legacy application summary:
{{.Summary}}

List every file the new project needs, as paths relative to the project root.
Output a strict JSON array of strings, for example ["package.json", "app/page.tsx"].
Do not list directories on their own.
{{end}}

{{define "generate"}}
You are an autonomous coding agent migrating a legacy application to {{.TargetLang}}.
Write the complete contents of the file "{{.Path}}" for the new project.
Base the logic on the legacy source files below.

Legacy Source Context:
{{.Context}}

Output ONLY the file contents. Do not include markdown fences or explanations.
{{end}}
`))

func render(name string, data interface{}) (string, error) {
	var b strings.Builder
	if err := prompts.ExecuteTemplate(&b, name, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()) + "\n", nil
}
