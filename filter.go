package main

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

//TagsFilter 标签过滤表达式（AND/OR/叶子）
type TagsFilter interface {
	Matches(props geojson.Properties) bool
	// Overpass returns the selector alternatives, e.g. `["amenity"="bench"]`.
	Overpass() []string
	String() string
}

type tagOp int

const (
	opEquals tagOp = iota
	opNotEquals
	opRegex
	opNotRegex
)

//Tag 单个标签条件
type Tag struct {
	Key   string
	Value string
	op    tagOp
	re    *regexp.Regexp
}

//And 全部满足
type And []TagsFilter

//Or 任一满足
type Or []TagsFilter

//ParseTag 解析 k=v, k!=v, k~re, k!~re
func ParseTag(s string) (*Tag, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, "=~")
	if i < 0 {
		return nil, errors.Errorf("invalid tag filter %q: no operator", s)
	}
	key, value := s[:i], s[i+1:]
	negate := strings.HasSuffix(key, "!")
	if negate {
		key = key[:len(key)-1]
	}
	var op tagOp
	switch {
	case s[i] == '=' && !negate:
		op = opEquals
	case s[i] == '=':
		op = opNotEquals
	case !negate:
		op = opRegex
	default:
		op = opNotRegex
	}
	if key == "" {
		return nil, errors.Errorf("invalid tag filter %q: empty key", s)
	}
	t := &Tag{Key: key, Value: value, op: op}
	if op == opRegex || op == opNotRegex {
		re, err := regexp.Compile("^(" + value + ")$")
		if err != nil {
			return nil, errors.Wrapf(err, "invalid tag filter %q", s)
		}
		t.re = re
	}
	return t, nil
}

func propValue(props geojson.Properties, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

//Matches 求值
func (t *Tag) Matches(props geojson.Properties) bool {
	v := propValue(props, t.Key)
	switch t.op {
	case opEquals:
		return v == t.Value
	case opNotEquals:
		return v != t.Value
	case opRegex:
		return t.re.MatchString(v)
	case opNotRegex:
		return !t.re.MatchString(v)
	}
	return false
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

//Overpass 转为 overpass 选择器
func (t *Tag) Overpass() []string {
	k := quote(t.Key)
	switch t.op {
	case opEquals:
		if t.Value == "" {
			return []string{"[!" + k + "]"}
		}
		return []string{"[" + k + "=" + quote(t.Value) + "]"}
	case opNotEquals:
		if t.Value == "" {
			return []string{"[" + k + "]"}
		}
		return []string{"[" + k + "!=" + quote(t.Value) + "]"}
	case opRegex:
		return []string{"[" + k + "~" + quote("^("+t.Value+")$") + "]"}
	default:
		return []string{"[" + k + "!~" + quote("^("+t.Value+")$") + "]"}
	}
}

func (t *Tag) String() string {
	ops := map[tagOp]string{opEquals: "=", opNotEquals: "!=", opRegex: "~", opNotRegex: "!~"}
	return t.Key + ops[t.op] + t.Value
}

//Matches 求值
func (a And) Matches(props geojson.Properties) bool {
	for _, f := range a {
		if !f.Matches(props) {
			return false
		}
	}
	return true
}

//Overpass AND 为选择器的笛卡尔积
func (a And) Overpass() []string {
	result := []string{""}
	for _, f := range a {
		var next []string
		for _, prefix := range result {
			for _, sel := range f.Overpass() {
				next = append(next, prefix+sel)
			}
		}
		result = next
	}
	return result
}

func (a And) String() string {
	return "(" + joinFilters(a, " & ") + ")"
}

//Matches 求值
func (o Or) Matches(props geojson.Properties) bool {
	for _, f := range o {
		if f.Matches(props) {
			return true
		}
	}
	return false
}

//Overpass OR 为选择器的并集
func (o Or) Overpass() []string {
	var result []string
	for _, f := range o {
		result = append(result, f.Overpass()...)
	}
	return result
}

func (o Or) String() string {
	return "(" + joinFilters(o, " | ") + ")"
}

func joinFilters(fs []TagsFilter, sep string) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = f.String()
	}
	return strings.Join(parts, sep)
}

//FilterExpr yaml 中的 osmTags 字段
type FilterExpr struct {
	TagsFilter
}

// UnmarshalYAML accepts "k=v" or {and: [...]} / {or: [...]}.
func (e *FilterExpr) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		t, err := ParseTag(s)
		if err != nil {
			return err
		}
		e.TagsFilter = t
		return nil
	}
	var composite struct {
		And []FilterExpr `yaml:"and"`
		Or  []FilterExpr `yaml:"or"`
	}
	if err := unmarshal(&composite); err != nil {
		return errors.Wrap(err, "osmTags must be a string or an and/or mapping")
	}
	switch {
	case len(composite.And) > 0 && len(composite.Or) > 0:
		return errors.New("osmTags: and/or cannot be combined in one mapping")
	case len(composite.And) > 0:
		e.TagsFilter = And(unwrapExprs(composite.And))
	case len(composite.Or) > 0:
		e.TagsFilter = Or(unwrapExprs(composite.Or))
	default:
		return errors.New("osmTags: empty and/or mapping")
	}
	return nil
}

func unwrapExprs(exprs []FilterExpr) []TagsFilter {
	fs := make([]TagsFilter, len(exprs))
	for i, e := range exprs {
		fs[i] = e.TagsFilter
	}
	return fs
}

//OverpassSelectors 去重并排序的选择器（输出稳定）
func OverpassSelectors(f TagsFilter) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range f.Overpass() {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
