package remote

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/liangyou/fwinstall/pkg/models"
)

// DefaultOSLabel 是显示名称中系统版本的默认标识。
const DefaultOSLabel = "Venus OS"

const numericGrammar = `(\d+)\.(\d+)((?:\.\d+)*)`

var (
	driverPattern = regexp.MustCompile(`(?i)(?:^|[^a-z0-9])v` + numericGrammar)
	betaPattern   = regexp.MustCompile(`(?i)(?:^|[^a-z])beta(?:$|[^a-z])`)
	osBetaPattern = regexp.MustCompile(`(?i)^[\s\-_(\[]*beta(?:$|[^a-z])`)
)

// Parsed 是一条显示名称的解析结果。
type Parsed struct {
	Version   models.VersionIdentifier
	OSVersion *models.VersionIdentifier
	OSBeta    bool
}

// Parser 从目录显示名称中提取驱动版本与系统版本。
type Parser struct {
	osPattern *regexp.Regexp
}

// NewParser 创建解析器，osLabel 为空时使用 DefaultOSLabel。
func NewParser(osLabel string) *Parser {
	label := strings.TrimSpace(osLabel)
	if label == "" {
		label = DefaultOSLabel
	}
	words := strings.Fields(label)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	pattern := `(?i)` + strings.Join(words, `\s+`) + `\s*v?` + numericGrammar
	return &Parser{osPattern: regexp.MustCompile(pattern)}
}

var defaultParser = NewParser(DefaultOSLabel)

// ParseVersion 使用默认解析器提取驱动版本，未找到版本时返回 false。
func ParseVersion(name string) (models.VersionIdentifier, bool) {
	p, ok := defaultParser.Parse(name)
	if !ok {
		return models.VersionIdentifier{}, false
	}
	return p.Version, true
}

// ParseCurrent 解析本地已安装版本字符串，允许省略前缀 v。
func ParseCurrent(current string) (models.VersionIdentifier, bool) {
	s := strings.TrimSpace(current)
	if s == "" {
		return models.VersionIdentifier{}, false
	}
	if s[0] != 'v' && s[0] != 'V' {
		s = "v" + s
	}
	return ParseVersion(s)
}

// Parse 提取驱动版本、可选系统版本及各自的 beta 标记。
func (p *Parser) Parse(name string) (Parsed, bool) {
	osStart, osEnd := -1, -1
	var out Parsed

	if m := p.osPattern.FindStringSubmatchIndex(name); m != nil {
		osStart, osEnd = m[0], m[1]
		osBeta := osBetaPattern.MatchString(name[osEnd:])
		if tuple, ok := tupleFromMatch(name, m[2:]); ok {
			if v, ok := models.NewVersionIdentifier(tuple, osBeta); ok {
				out.OSVersion = &v
				out.OSBeta = osBeta
			}
		}
	}

	for _, m := range driverPattern.FindAllStringSubmatchIndex(name, -1) {
		start, end := m[0], m[1]
		if osStart >= 0 && start < osEnd && end > osStart {
			continue
		}
		tuple, ok := tupleFromMatch(name, m[2:])
		if !ok {
			continue
		}

		remainder := name[end:]
		if osStart >= end {
			remainder = name[end:osStart]
		}
		v, ok := models.NewVersionIdentifier(tuple, betaPattern.MatchString(remainder))
		if !ok {
			continue
		}
		out.Version = v
		return out, true
	}

	return Parsed{}, false
}

// tupleFromMatch 把 major、minor（含附加数字）与后续点分段转换为整数元组。
func tupleFromMatch(s string, idx []int) ([]int64, bool) {
	if len(idx) < 6 || idx[0] < 0 || idx[2] < 0 {
		return nil, false
	}
	fields := []string{s[idx[0]:idx[1]], s[idx[2]:idx[3]]}
	if idx[4] >= 0 && idx[5] > idx[4] {
		extra := strings.Split(strings.TrimPrefix(s[idx[4]:idx[5]], "."), ".")
		fields = append(fields, extra...)
	}

	tuple := make([]int64, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, false
		}
		tuple = append(tuple, n)
	}
	return tuple, true
}
