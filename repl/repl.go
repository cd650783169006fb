// Package repl implements the interactive read-eval-print loop: thin glue
// over the real lexer/parser/checker/compiler/vm pipeline, not a second
// implementation of the language.
//
// Each line is folded into an ever-growing accumulated program (prior
// top-level declarations and global bindings survive across lines) which
// is re-parsed, re-type-checked, and re-compiled from scratch on every
// turn, then run to completion in a fresh vm.VM. This is the simplest way
// to give a REPL session a persistent global scope without teaching the
// compiler to patch an already-running VM's global slots in place; the
// cost is that a global's initializer re-runs every time a later line is
// evaluated, which only matters for initializers with observable side
// effects (a constant or a pure expression behaves exactly as if it had
// stayed bound).
package repl

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"eqlang/ast"
	"eqlang/bytecode"
	"eqlang/checker"
	"eqlang/compiler"
	"eqlang/gc"
	"eqlang/lexer"
	"eqlang/parser"
	"eqlang/token"
	"eqlang/vm"
)

const (
	PROMPT = ">> "
	LOGO   = `
┏━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━┓
┃  _____ ___
┃ | ____/ _ \
┃ |  _|| | | |
┃ | |__| |_| |
┃ |_____\__\_\
┃
┃ The eqlang toolchain REPL                          ┃
┗━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━┛
`
)

// ANSI color codes for terminal output.
const (
	Reset  = "\033[0m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Purple = "\033[35m"
	Cyan   = "\033[36m"
	Gray   = "\033[37m"
	Bold   = "\033[1m"
)

// session holds the accumulated source text a REPL line is checked and
// compiled against: top-level declarations in entry order, and global
// bindings keyed by name so redeclaring a name shadows its old slot
// instead of appending a duplicate.
type session struct {
	decls       []string
	globalOrder []string
	globals     map[string]string
}

func newSession() *session {
	return &session{globals: map[string]string{}}
}

// withDecl returns a copy of s with src appended as one more top-level
// declaration, leaving s itself untouched until the caller commits.
func (s *session) withDecl(src string) *session {
	return &session{
		decls:       append(append([]string{}, s.decls...), src),
		globalOrder: s.globalOrder,
		globals:     s.globals,
	}
}

// withGlobal returns a copy of s with name bound to src, shadowing any
// earlier binding of the same name in place.
func (s *session) withGlobal(name, src string) *session {
	order := s.globalOrder
	globals := make(map[string]string, len(s.globals)+1)
	for k, v := range s.globals {
		globals[k] = v
	}
	if _, ok := globals[name]; !ok {
		order = append(append([]string{}, order...), name)
	}
	globals[name] = src
	return &session{decls: s.decls, globalOrder: order, globals: globals}
}

// program renders the accumulated session as a complete module, with
// mainBody as the implicit main function's indented statement list.
func (s *session) program(mainRetType, mainBody string) string {
	var b strings.Builder
	for _, d := range s.decls {
		b.WriteString(d)
		b.WriteString("\n")
	}
	for _, name := range s.globalOrder {
		b.WriteString(s.globals[name])
		b.WriteString("\n")
	}
	b.WriteString("def main() -> ")
	b.WriteString(mainRetType)
	b.WriteString(":\n")
	b.WriteString(mainBody)
	b.WriteString("\n")
	return b.String()
}

// Start launches the read-eval-print loop. It listens to in, evaluates
// code against a session that persists across lines, and writes results
// to out.
func Start(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	sess := newSession()
	debugMode := false

	fmt.Fprint(out, LOGO)
	printHelp(out)

	for {
		fmt.Fprint(out, Cyan+PROMPT+Reset)
		line, ok := readLogicalLine(scanner, out)
		if !ok {
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		if strings.HasPrefix(strings.TrimSpace(line), ".") {
			switch strings.TrimSpace(line) {
			case ".exit":
				fmt.Fprintln(out, Yellow+"Goodbye!"+Reset)
				return
			case ".clear":
				sess = newSession()
				fmt.Fprintln(out, Green+"Session cleared."+Reset)
			case ".debug":
				debugMode = !debugMode
				status := "DISABLED"
				if debugMode {
					status = "ENABLED"
				}
				fmt.Fprintf(out, Gray+"Debug mode %s\n"+Reset, status)
			case ".help":
				printHelp(out)
			default:
				fmt.Fprintf(out, Red+"Unknown command: %s. Type .help for info.\n"+Reset, line)
			}
			continue
		}

		if debugMode {
			printTokens(out, line)
		}

		sess = evalLine(out, sess, line, debugMode)
	}
}

// readLogicalLine reads one REPL "turn": a single physical line, or, if
// that line opens a suite (ends in ':', e.g. "def f():"), every following
// line up to a blank one — the blank-line-terminated block convention
// most indentation-sensitive REPLs use.
func readLogicalLine(scanner *bufio.Scanner, out io.Writer) (string, bool) {
	if !scanner.Scan() {
		return "", false
	}
	first := scanner.Text()
	if !strings.HasSuffix(strings.TrimSpace(first), ":") {
		return first, true
	}

	var b strings.Builder
	b.WriteString(first)
	for {
		fmt.Fprint(out, Cyan+".. "+Reset)
		if !scanner.Scan() {
			break
		}
		cont := scanner.Text()
		if strings.TrimSpace(cont) == "" {
			break
		}
		b.WriteString("\n")
		b.WriteString(cont)
	}
	return b.String(), true
}

type lineKind int

const (
	kindDecl lineKind = iota
	kindLet
	kindOther
)

// classify inspects line's first significant token to decide how it
// should be folded into the session.
func classify(line string) lineKind {
	l := lexer.New(line)
	switch l.Next().Kind {
	case token.DEF, token.STRUCT, token.CLASS, token.ENUM, token.UNION,
		token.EXTERN, token.IMPORT, token.EXPORT, token.AT:
		return kindDecl
	case token.LET:
		return kindLet
	default:
		return kindOther
	}
}

// letName extracts the bound identifier from a "let NAME ..." line.
func letName(line string) string {
	l := lexer.New(line)
	l.Next() // LET
	return l.Next().Lexeme
}

// evalLine classifies line as a top-level declaration, a global binding,
// or a bare statement/expression, folds it into sess accordingly (on
// success), and prints whatever it produced. It returns the session the
// next line should build on.
func evalLine(out io.Writer, sess *session, line string, debugMode bool) *session {
	switch classify(line) {
	case kindDecl:
		return evalDecl(out, sess, line, debugMode)
	case kindLet:
		return evalLet(out, sess, line, debugMode)
	default:
		return evalStatement(out, sess, line, debugMode)
	}
}

func evalDecl(out io.Writer, sess *session, line string, debugMode bool) *session {
	candidate := sess.withDecl(line)
	src := candidate.program("int", "    return 0")
	if _, _, err := checkSource(src, debugMode, out); err != nil {
		printError(out, err)
		return sess
	}
	fmt.Fprintln(out, Gray+"(declared)"+Reset)
	return candidate
}

func evalLet(out io.Writer, sess *session, line string, debugMode bool) *session {
	name := letName(line)
	if name == "" {
		printError(out, fmt.Errorf("malformed let statement"))
		return sess
	}

	candidate := sess.withGlobal(name, line)
	src := candidate.program("int", "    return 0")
	_, ctx, err := checkSource(src, debugMode, out)
	if err != nil {
		printError(out, err)
		return sess
	}
	t, ok := ctx.Globals[name]
	if !ok {
		printError(out, fmt.Errorf("%q did not resolve to a global binding", name))
		return sess
	}

	retSrc := candidate.program(typeSyntax(t), "    return "+name)
	runAndPrint(out, retSrc, debugMode)
	return candidate
}

func evalStatement(out io.Writer, sess *session, line string, debugMode bool) *session {
	const probeName = "__repl_result"
	probe := sess.withGlobal(probeName, "let "+probeName+" = ("+line+")")
	probeSrc := probe.program("int", "    return 0")
	if _, ctx, err := checkSource(probeSrc, false, nil); err == nil {
		if t, ok := ctx.Globals[probeName]; ok {
			retSrc := probe.program(typeSyntax(t), "    return "+probeName)
			runAndPrint(out, retSrc, debugMode)
			return sess
		}
	}

	// Not a value-producing expression: run it as a bare statement inside
	// main, for its side effects only.
	stmtSrc := sess.program("int", indentBody(line)+"\n    return 0")
	mod, ctx, err := checkSource(stmtSrc, debugMode, out)
	if err != nil {
		printError(out, err)
		return sess
	}
	compileAndRun(out, mod, ctx, false, debugMode)
	return sess
}

func indentBody(line string) string {
	lines := strings.Split(line, "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}

// checkSource parses and type-checks src, optionally dumping the AST when
// debugMode is set and out is non-nil.
func checkSource(src string, debugMode bool, out io.Writer) (*ast.Module, *checker.TypeContext, error) {
	mod, err := parser.ParseModule(src)
	if err != nil {
		return nil, nil, err
	}
	if debugMode && out != nil {
		printAST(out, mod)
	}
	ctx := checker.NewTypeContext(nil)
	if _, err := checker.CheckModule(mod, ctx); err != nil {
		return nil, nil, err
	}
	return mod, ctx, nil
}

// runAndPrint parses, checks, compiles, and runs src, printing the
// colorized result of its implicit main.
func runAndPrint(out io.Writer, src string, debugMode bool) {
	mod, ctx, err := checkSource(src, debugMode, out)
	if err != nil {
		printError(out, err)
		return
	}
	compileAndRun(out, mod, ctx, true, debugMode)
}

// compileAndRun compiles mod (already checked against ctx) and executes
// it in a fresh VM, printing the result only when printResult is set.
func compileAndRun(out io.Writer, mod *ast.Module, ctx *checker.TypeContext, printResult, debugMode bool) {
	bc, err := compiler.Compile(mod, ctx)
	if err != nil {
		printError(out, err)
		return
	}
	if debugMode {
		printDisasm(out, bc)
	}
	m := vm.New(bc)
	m.Stdout = out
	result, err := m.Eval()
	if err != nil {
		printError(out, err)
		return
	}
	if printResult {
		printEvalResult(out, result)
	}
}

// ----------------------------------------------------------------------------
// Output helpers
// ----------------------------------------------------------------------------

func printHelp(out io.Writer) {
	fmt.Fprintln(out, Gray+"Commands:")
	fmt.Fprintln(out, "  .exit   Quit the REPL")
	fmt.Fprintln(out, "  .clear  Reset the session")
	fmt.Fprintln(out, "  .debug  Toggle token/AST/bytecode dumps")
	fmt.Fprintln(out, "  .help   Show this message"+Reset)
	fmt.Fprintln(out)
}

func printTokens(out io.Writer, line string) {
	fmt.Fprintln(out, Gray+"┌── [ TOKENS ] ──────────────────────────────────────────┐"+Reset)
	l := lexer.New(line)
	for tok := l.Next(); tok.Kind != token.EOF; tok = l.Next() {
		fmt.Fprintf(out, "│ %-15s : %s\n", tok.Kind, tok.Lexeme)
	}
	fmt.Fprintln(out, Gray+"└────────────────────────────────────────────────────────┘"+Reset)
}

func printAST(out io.Writer, mod *ast.Module) {
	fmt.Fprintln(out, Gray+"┌── [ AST ] ─────────────────────────────────────────────┐"+Reset)
	if str := mod.String(); str != "" {
		fmt.Fprintf(out, "%s\n", str)
	}
	fmt.Fprintln(out, Gray+"└────────────────────────────────────────────────────────┘"+Reset)
}

func printDisasm(out io.Writer, bc *bytecode.Module) {
	fmt.Fprintln(out, Gray+"┌── [ BYTECODE ] ────────────────────────────────────────┐"+Reset)
	bytecode.Disassemble(out, bc)
	fmt.Fprintln(out, Gray+"└────────────────────────────────────────────────────────┘"+Reset)
}

func printError(out io.Writer, err error) {
	fmt.Fprintf(out, Red+Bold+"error: "+Reset+Red+"%s\n"+Reset, err)
}

// printEvalResult formats v's printed form based on its runtime kind,
// coloring each kind distinctly the way the original REPL did for its
// own value types.
func printEvalResult(out io.Writer, v gc.Value) {
	switch v.Kind {
	case gc.KindNull:
		return
	case gc.KindInt, gc.KindFloat:
		fmt.Fprintf(out, Yellow+"%s\n"+Reset, v.String())
	case gc.KindBool:
		color := Green
		if !v.Bool {
			color = Red
		}
		fmt.Fprintf(out, color+"%s\n"+Reset, v.String())
	case gc.KindString:
		fmt.Fprintf(out, Green+"%q\n"+Reset, v.String())
	case gc.KindArray, gc.KindMap:
		fmt.Fprintf(out, Blue+"%s\n"+Reset, v.String())
	case gc.KindRecord, gc.KindInstance:
		fmt.Fprintf(out, Cyan+"%s\n"+Reset, v.String())
	default:
		fmt.Fprintf(out, "%s\n", v.String())
	}
}
