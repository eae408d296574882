package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type jsonNode struct {
	result gjson.Result
	object bool
}

// JSONDocument 是顶层为对象的 JSON 文本及其路径索引。
// 非空对象继续展开，数组、标量和空对象都视为叶子。
type JSONDocument struct {
	raw    []byte
	leaves map[string]jsonNode
	nodes  map[string]jsonNode
	order  []string
}

// ParseJSON 校验并索引 JSON 文本。顶层必须是对象。
func ParseJSON(data []byte) (*JSONDocument, error) {
	if !gjson.ValidBytes(data) {
		return nil, &SyntaxError{Msg: "invalid JSON"}
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, &SyntaxError{Msg: fmt.Sprintf("top-level value must be an object, got %s", root.Type)}
	}

	doc := &JSONDocument{
		raw:    data,
		leaves: map[string]jsonNode{},
		nodes:  map[string]jsonNode{},
	}
	doc.walk(root, "")
	return doc, nil
}

func (d *JSONDocument) walk(obj gjson.Result, prefix string) {
	obj.ForEach(func(key, value gjson.Result) bool {
		path := gjson.Escape(key.String())
		if prefix != "" {
			path = prefix + "." + path
		}
		if _, dup := d.nodes[path]; dup {
			// gjson 只能定位第一次出现的同名键
			return true
		}
		node := jsonNode{result: value, object: value.IsObject() && hasKeys(value)}
		d.nodes[path] = node
		if node.object {
			d.walk(value, path)
			return true
		}
		d.leaves[path] = node
		d.order = append(d.order, path)
		return true
	})
}

func hasKeys(obj gjson.Result) bool {
	found := false
	obj.ForEach(func(_, _ gjson.Result) bool {
		found = true
		return false
	})
	return found
}

// Leaves 按出现顺序返回叶子路径（gjson 语法）。
func (d *JSONDocument) Leaves() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// MergeJSON 在 def 的原始文本上逐个替换共有叶子的值，保持 def 的键顺序与格式。
// 两边同一路径结构类型不一致时保留默认值并记入 Replaced。
func MergeJSON(def, backup *JSONDocument) ([]byte, Report, error) {
	var report Report
	out := append([]byte(nil), def.raw...)

	for _, path := range def.order {
		bn, ok := backup.nodes[path]
		if !ok {
			// 上级在 backup 中是叶子时，由下面的循环记为 Replaced
			if !ancestorIsLeaf(backup, path) {
				report.Added = append(report.Added, path)
			}
			continue
		}
		if bn.object {
			report.Replaced = append(report.Replaced, path)
			continue
		}

		report.Kept = append(report.Kept, path)
		dn := def.leaves[path]
		if dn.result.Raw == bn.result.Raw {
			continue
		}
		var err error
		out, err = sjson.SetRawBytes(out, path, []byte(bn.result.Raw))
		if err != nil {
			return nil, Report{}, fmt.Errorf("reconcile: set %s: %w", path, err)
		}
		report.Changed = append(report.Changed, path)
	}

	for _, path := range backup.order {
		if _, ok := def.nodes[path]; ok {
			// def 中为对象、backup 中为叶子
			if def.nodes[path].object {
				report.Replaced = append(report.Replaced, path)
			}
			continue
		}
		if ancestorIsLeaf(def, path) {
			continue
		}
		report.Dropped = append(report.Dropped, path)
	}

	report.Replaced = dedupe(report.Replaced)
	report.readable()
	return out, report, nil
}

// ancestorIsLeaf 报告 path 的某个上级路径在 doc 中是否是叶子。
func ancestorIsLeaf(doc *JSONDocument, path string) bool {
	for i := len(path) - 1; i > 0; i-- {
		if path[i] != '.' || isEscaped(path, i) {
			continue
		}
		if _, ok := doc.leaves[path[:i]]; ok {
			return true
		}
	}
	return false
}

func isEscaped(path string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && path[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// unescapePath 把 gjson 路径还原为便于阅读的点分形式。
func unescapePath(path string) string {
	if !strings.Contains(path, `\`) {
		return path
	}
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		if path[i] == '\\' && i+1 < len(path) {
			i++
		}
		b.WriteByte(path[i])
	}
	return b.String()
}
