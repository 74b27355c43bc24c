package tool

import (
	"context"
	"fmt"
	"go/ast"
	goparser "go/parser"
	"go/token"
	"strings"

	"github.com/musedev/muse/errors"
)

type AnalyzeCodeRequest struct {
	FilePath string `json:"file_path" jsonschema_description:"Local path of a .go source file (not a URL)"`
}

func registerCodeTools(r *Registry) {
	Register(r, "analyze_code",
		"Report the structure of a local Go source file without running it: imports, types and functions with line numbers.",
		ClassRead, analyzeCode)
}

func analyzeCode(_ context.Context, in AnalyzeCodeRequest) (string, error) {
	if isURL(in.FilePath) {
		return "", errors.Errorf("analyze_code works on local Go files only, got a URL: %s — use web_fetch for pages", in.FilePath)
	}
	if !strings.HasSuffix(in.FilePath, ".go") {
		return "", errors.Errorf("analyze_code expects a .go file, got %s", in.FilePath)
	}

	fset := token.NewFileSet()
	file, err := goparser.ParseFile(fset, in.FilePath, nil, goparser.ParseComments)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse %s", in.FilePath)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "analysis of %s (package %s)\n", in.FilePath, file.Name.Name)

	if len(file.Imports) > 0 {
		b.WriteString("\nimports:\n")
		for i, imp := range file.Imports {
			if i >= 15 {
				fmt.Fprintf(&b, "  … and %d more\n", len(file.Imports)-15)
				break
			}
			fmt.Fprintf(&b, "  %s (line %d)\n", imp.Path.Value, fset.Position(imp.Pos()).Line)
		}
	}

	var types, funcs []string
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				if ts, ok := spec.(*ast.TypeSpec); ok {
					types = append(types, fmt.Sprintf("  %s (line %d)", ts.Name.Name, fset.Position(ts.Pos()).Line))
				}
			}
		case *ast.FuncDecl:
			name := d.Name.Name
			if d.Recv != nil && len(d.Recv.List) > 0 {
				recv := d.Recv.List[0].Type
				name = fmt.Sprintf("(%s).%s", exprString(recv), name)
			}
			funcs = append(funcs, fmt.Sprintf("  %s (line %d)", name, fset.Position(d.Pos()).Line))
		}
	}

	if len(types) > 0 {
		b.WriteString("\ntypes:\n" + strings.Join(types, "\n") + "\n")
	}
	if len(funcs) > 0 {
		b.WriteString("\nfunctions:\n" + strings.Join(funcs, "\n") + "\n")
	}

	fmt.Fprintf(&b, "\ntotals: %d types, %d functions", len(types), len(funcs))
	return b.String(), nil
}

func exprString(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.StarExpr:
		return "*" + exprString(e.X)
	case *ast.IndexExpr:
		return exprString(e.X)
	default:
		return "?"
	}
}
