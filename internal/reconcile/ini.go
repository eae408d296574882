package reconcile

import (
	"fmt"
	"strings"
)

type lineKind int

const (
	lineBlank lineKind = iota
	lineComment
	lineSection
	lineKey
	lineContinuation
)

type iniLine struct {
	body string // 去掉换行符后的内容
	eol  string
	kind lineKind
}

type iniEntry struct {
	line   int      // 键所在行
	cont   []int    // 续行
	prefix string   // 键、分隔符及其后的空白
	value  string   // 首行值，去掉尾部空白
	extra  []string // 续行内容，去掉首尾空白
}

// INIDocument 是解析后的 key=value 文本，保留原始行以便按原布局输出。
type INIDocument struct {
	lines   []iniLine
	entries map[string]*iniEntry
	order   []string
}

// Keys 按出现顺序返回 "section.key" 形式的键，key 统一小写。
func (d *INIDocument) Keys() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Value 返回键的值，续行以换行连接。
func (d *INIDocument) Value(key string) (string, bool) {
	e, ok := d.entries[key]
	if !ok {
		return "", false
	}
	return e.joined(), true
}

func (e *iniEntry) joined() string {
	if len(e.extra) == 0 {
		return e.value
	}
	return e.value + "\n" + strings.Join(e.extra, "\n")
}

// ParseINI 解析带 section 的 key=value 文本。无法识别的行、section 之前的键、
// 同一 section 内的重复键以及重复 section 都视为语法错误。
func ParseINI(data []byte) (*INIDocument, error) {
	doc := &INIDocument{entries: map[string]*iniEntry{}}

	text := string(data)
	if text == "" {
		return doc, nil
	}

	section := ""
	hasSection := false
	sections := map[string]struct{}{}
	var current *iniEntry

	for i, raw := range strings.SplitAfter(text, "\n") {
		if raw == "" {
			continue
		}
		body := strings.TrimRight(raw, "\r\n")
		line := iniLine{body: body, eol: raw[len(body):]}
		trimmed := strings.TrimSpace(body)
		lineNo := i + 1

		switch {
		case trimmed == "":
			line.kind = lineBlank
			current = nil
		case trimmed[0] == '#' || trimmed[0] == ';':
			line.kind = lineComment
			current = nil
		case current != nil && (body[0] == ' ' || body[0] == '\t'):
			line.kind = lineContinuation
			current.cont = append(current.cont, len(doc.lines))
			current.extra = append(current.extra, trimmed)
		case trimmed[0] == '[':
			if !strings.HasSuffix(trimmed, "]") || len(trimmed) < 3 {
				return nil, &SyntaxError{Line: lineNo, Msg: fmt.Sprintf("malformed section header %q", trimmed)}
			}
			name := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
			if _, dup := sections[name]; dup {
				return nil, &SyntaxError{Line: lineNo, Msg: fmt.Sprintf("duplicate section %q", name)}
			}
			sections[name] = struct{}{}
			section = name
			hasSection = true
			line.kind = lineSection
			current = nil
		default:
			sep := strings.IndexAny(body, "=:")
			if sep < 0 {
				return nil, &SyntaxError{Line: lineNo, Msg: fmt.Sprintf("expected key=value, got %q", trimmed)}
			}
			name := strings.TrimSpace(body[:sep])
			if name == "" {
				return nil, &SyntaxError{Line: lineNo, Msg: "empty key"}
			}
			if !hasSection {
				return nil, &SyntaxError{Line: lineNo, Msg: fmt.Sprintf("key %q before any section header", name)}
			}
			key := section + "." + strings.ToLower(name)
			if _, dup := doc.entries[key]; dup {
				return nil, &SyntaxError{Line: lineNo, Msg: fmt.Sprintf("duplicate key %q", key)}
			}

			start := sep + 1
			for start < len(body) && (body[start] == ' ' || body[start] == '\t') {
				start++
			}
			entry := &iniEntry{
				line:   len(doc.lines),
				prefix: body[:start],
				value:  strings.TrimRight(body[start:], " \t"),
			}
			doc.entries[key] = entry
			doc.order = append(doc.order, key)
			line.kind = lineKey
			current = entry
		}

		doc.lines = append(doc.lines, line)
	}

	return doc, nil
}

// MergeINI 以 def 的布局为基础输出合并结果：共有键取 backup 的值，
// 仅在 def 中的键保持默认值，仅在 backup 中的键被丢弃。
func MergeINI(def, backup *INIDocument) ([]byte, Report) {
	var report Report
	replace := map[int]*iniEntry{}
	skip := map[int]struct{}{}

	for _, key := range def.order {
		de := def.entries[key]
		be, ok := backup.entries[key]
		if !ok {
			report.Added = append(report.Added, key)
			continue
		}
		report.Kept = append(report.Kept, key)
		if de.joined() == be.joined() {
			continue
		}
		report.Changed = append(report.Changed, key)
		replace[de.line] = be
		for _, idx := range de.cont {
			skip[idx] = struct{}{}
		}
	}
	for _, key := range backup.order {
		if _, ok := def.entries[key]; !ok {
			report.Dropped = append(report.Dropped, key)
		}
	}

	var b strings.Builder
	for i, line := range def.lines {
		if _, ok := skip[i]; ok {
			continue
		}
		be, ok := replace[i]
		if !ok {
			b.WriteString(line.body)
			b.WriteString(line.eol)
			continue
		}

		de := def.entries[keyAt(def, i)]
		sep := line.eol
		if sep == "" {
			sep = "\n"
		}
		b.WriteString(de.prefix)
		b.WriteString(be.value)
		for _, idx := range be.cont {
			b.WriteString(sep)
			b.WriteString(backup.lines[idx].body)
		}
		b.WriteString(line.eol)
	}

	return []byte(b.String()), report
}

func keyAt(doc *INIDocument, line int) string {
	for _, key := range doc.order {
		if doc.entries[key].line == line {
			return key
		}
	}
	return ""
}
