// Package sandbox evaluates generated analytical code against a dataset.
// Code is written in the expr language: one statement per line, with
// "name = expression" binding a variable. The environment holds only the
// records, their column names and a fixed set of helpers, so evaluated code
// has no route to the filesystem, network or processes.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/expr-lang/expr"

	"github.com/mdcapital/claimsight/internal/dataset"
)

// ResultVar is the variable generated code must bind.
const ResultVar = "result"

// NoResult is the scalar returned when code never binds ResultVar.
const NoResult = "No result variable set"

const errPrefix = "Execution error: "

var ErrTimeout = errors.New("execution timed out")

var assignRe = regexp.MustCompile(`(?s)^([A-Za-z_][A-Za-z0-9_]*)\s*=([^=].*)$`)

// Executor runs code fragments with a wall-clock limit.
type Executor struct {
	timeout time.Duration
}

// New returns an Executor. A zero timeout disables the limit.
func New(timeout time.Duration) *Executor {
	return &Executor{timeout: timeout}
}

// Execute evaluates code against ds. Every failure is reported as a
// KindError result; Execute never panics.
func (x *Executor) Execute(ctx context.Context, code string, ds *dataset.Dataset) Result {
	if ds == nil {
		return failure(errPrefix+"no data loaded", nil)
	}
	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- failure(fmt.Sprintf("%spanic: %v", errPrefix, r), nil)
			}
		}()
		done <- run(code, ds)
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout
		}
		slog.Warn("sandbox: execution abandoned", "timeout", x.timeout, "err", err)
		return failure(errPrefix+err.Error(), err)
	}
}

func run(code string, ds *dataset.Dataset) Result {
	columns := ds.Columns()
	stmts, err := splitStatements(code)
	if err != nil {
		return failure(errPrefix+err.Error(), err)
	}

	h := helpers{columns: columns}
	env := map[string]any{
		"df":      ds.Records(),
		"columns": slices.Clone(columns),
	}

	for _, st := range stmts {
		target, body := "", st.text
		if m := assignRe.FindStringSubmatch(st.text); m != nil {
			target, body = m[1], strings.TrimSpace(m[2])
			if isReserved(target) {
				err := fmt.Errorf("line %d: cannot assign to reserved name %q", st.line, target)
				return failure(errPrefix+err.Error(), err)
			}
		}

		opts := append([]expr.Option{expr.Env(env)}, h.options()...)
		program, err := expr.Compile(body, opts...)
		if err != nil {
			return execFailure(st.line, err, columns)
		}
		out, err := expr.Run(program, env)
		if err != nil {
			return execFailure(st.line, err, columns)
		}
		if target != "" {
			env[target] = out
		}
	}

	v, ok := env[ResultVar]
	if !ok {
		return scalar(NoResult)
	}
	return classify(v, columns)
}

func execFailure(line int, err error, columns []string) Result {
	msg := fmt.Sprintf("%sline %d: %v", errPrefix, line, err)
	if isColumnError(err) {
		msg += fmt.Sprintf("\nColumn not found. Available columns: [%s]", strings.Join(columns, ", "))
	}
	return failure(msg, err)
}

func isColumnError(err error) bool {
	var ce *ColumnError
	if errors.As(err, &ce) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "has no field") ||
		strings.Contains(msg, "unknown name") ||
		strings.Contains(msg, "column not found")
}

func isReserved(name string) bool {
	return name == "df" || name == "columns" || slices.Contains(helperNames, name)
}

type statement struct {
	line int
	text string
}

// splitStatements groups source lines into statements. A statement
// continues while brackets are open or the line ends with a binary
// operator or comma. Blank lines and # or // comments are skipped.
func splitStatements(code string) ([]statement, error) {
	var (
		out   []statement
		buf   strings.Builder
		depth int
		start int
	)
	for i, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if buf.Len() == 0 {
			if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//") {
				continue
			}
			start = i + 1
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
		depth += bracketDelta(line)
		if depth > 0 || continues(trimmed) {
			continue
		}
		text := strings.TrimSuffix(strings.TrimSpace(buf.String()), ";")
		out = append(out, statement{line: start, text: strings.TrimSpace(text)})
		buf.Reset()
		depth = 0
	}
	if buf.Len() > 0 {
		return nil, fmt.Errorf("line %d: unterminated statement", start)
	}
	return out, nil
}

func continues(line string) bool {
	for _, op := range []string{",", "&&", "||", "+", "(", "[", "{", " and", " or"} {
		if strings.HasSuffix(line, op) {
			return true
		}
	}
	return false
}

// bracketDelta counts opening minus closing brackets outside string
// literals.
func bracketDelta(line string) int {
	var (
		delta  int
		quote  rune
		escape bool
	)
	for _, r := range line {
		if quote != 0 {
			switch {
			case escape:
				escape = false
			case r == '\\' && quote != '`':
				escape = true
			case r == quote:
				quote = 0
			}
			continue
		}
		switch r {
		case '"', '\'', '`':
			quote = r
		case '(', '[', '{':
			delta++
		case ')', ']', '}':
			delta--
		}
	}
	return delta
}
