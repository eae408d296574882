package remote

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/liangyou/fwinstall/internal/fault"
	"github.com/liangyou/fwinstall/pkg/models"
)

// RecordDelimiter 分隔目录记录中的显示名称与下载地址。
const RecordDelimiter = "|^|"

// SkippedRecord 记录被丢弃的目录记录及原因。
type SkippedRecord struct {
	Raw    string
	Reason error
}

// Catalog 保存按接收顺序排列的目录条目，并提供按版本与名称的查找。
type Catalog struct {
	entries   []models.CatalogEntry
	byVersion map[string]int
	byName    map[string]int
	skipped   []SkippedRecord
}

// BuildCatalog 解析原始记录。无法解析的记录被跳过并记录原因，不会中断构建。
// 重复的显示名称保留第一次出现；共享版本号的不同名称都会展示，版本查找指向第一条。
func BuildCatalog(records []string, parser *Parser, logger hclog.Logger) *Catalog {
	if parser == nil {
		parser = defaultParser
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	c := &Catalog{
		byVersion: map[string]int{},
		byName:    map[string]int{},
	}

	for _, raw := range records {
		name, link, ok := splitRecord(raw)
		if !ok {
			c.skip(logger, raw, fmt.Errorf("missing %q delimiter", RecordDelimiter))
			continue
		}

		parsed, ok := parser.Parse(name)
		if !ok {
			c.skip(logger, raw, fault.Newf(fault.ErrVersionUnparsable, name, "no version token"))
			continue
		}

		if _, dup := c.byName[name]; dup {
			logger.Warn("duplicate catalog entry ignored", "name", name, "source", link)
			c.skipped = append(c.skipped, SkippedRecord{Raw: raw, Reason: fmt.Errorf("duplicate display name %q", name)})
			continue
		}

		entry := models.CatalogEntry{
			Index:          len(c.entries) + 1,
			DisplayName:    name,
			SourceLocation: link,
			Version:        parsed.Version,
			OSVersion:      parsed.OSVersion,
			OSBeta:         parsed.OSBeta,
		}
		c.entries = append(c.entries, entry)
		c.byName[name] = len(c.entries) - 1

		key := parsed.Version.Key()
		if first, dup := c.byVersion[key]; dup {
			logger.Warn("catalog version listed more than once, lookups resolve to the first entry",
				"version", key, "first", c.entries[first].DisplayName, "name", name)
			continue
		}
		c.byVersion[key] = len(c.entries) - 1
	}

	return c
}

func (c *Catalog) skip(logger hclog.Logger, raw string, reason error) {
	logger.Info("skipping catalog record", "record", raw, "reason", reason)
	c.skipped = append(c.skipped, SkippedRecord{Raw: raw, Reason: reason})
}

func splitRecord(raw string) (string, string, bool) {
	name, link, ok := strings.Cut(raw, RecordDelimiter)
	if !ok {
		return "", "", false
	}
	name = strings.TrimSpace(name)
	link = strings.TrimSpace(link)
	if name == "" || link == "" {
		return "", "", false
	}
	return name, link, true
}

// Len 返回条目数量。
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Entries 返回按接收顺序排列的条目副本。
func (c *Catalog) Entries() []models.CatalogEntry {
	if c == nil {
		return nil
	}
	out := make([]models.CatalogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Skipped 返回构建时被丢弃的记录。
func (c *Catalog) Skipped() []SkippedRecord {
	if c == nil {
		return nil
	}
	out := make([]SkippedRecord, len(c.skipped))
	copy(out, c.skipped)
	return out
}

// At 按 1 起始序号返回条目。
func (c *Catalog) At(index int) (models.CatalogEntry, bool) {
	if c == nil || index < 1 || index > len(c.entries) {
		return models.CatalogEntry{}, false
	}
	return c.entries[index-1], true
}

// ByName 按显示名称查找条目。
func (c *Catalog) ByName(name string) (models.CatalogEntry, bool) {
	if c == nil {
		return models.CatalogEntry{}, false
	}
	i, ok := c.byName[strings.TrimSpace(name)]
	if !ok {
		return models.CatalogEntry{}, false
	}
	return c.entries[i], true
}

// ByVersion 按版本号查找条目，例如 "1.67" 或 "1.678-beta"。
func (c *Catalog) ByVersion(key string) (models.CatalogEntry, bool) {
	if c == nil {
		return models.CatalogEntry{}, false
	}
	key = strings.TrimPrefix(strings.TrimSpace(key), "v")
	i, ok := c.byVersion[key]
	if !ok {
		return models.CatalogEntry{}, false
	}
	return c.entries[i], true
}

// Sorted 返回按版本降序排列的条目：元组大者在前，元组相同时正式版在 beta 之前。
func (c *Catalog) Sorted() []models.CatalogEntry {
	sorted := c.Entries()
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Version.Compare(sorted[j].Version) > 0
	})
	return sorted
}

// Latest 返回排序后的第一条。beta 只在元组相等时让位于正式版，元组更大的 beta 仍然胜出。
func (c *Catalog) Latest() (models.CatalogEntry, bool) {
	sorted := c.Sorted()
	if len(sorted) == 0 {
		return models.CatalogEntry{}, false
	}
	return sorted[0], true
}

// NewerThan 判断目录中是否存在严格大于 current 的版本，current 无法解析时返回 false。
func (c *Catalog) NewerThan(current string) bool {
	cur, ok := ParseCurrent(current)
	if !ok {
		return false
	}
	for _, e := range c.Entries() {
		if e.Version.GreaterThan(cur) {
			return true
		}
	}
	return false
}
