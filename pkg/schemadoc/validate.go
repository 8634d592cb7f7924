package schemadoc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidSchema is returned by Compile for documents that use a
// supported keyword with a malformed value.
var ErrInvalidSchema = errors.New("invalid schema document")

// Validator checks payloads against a compiled schema document.
//
// Supported keywords: type, enum, const, properties, required,
// additionalProperties, items, minimum, maximum, exclusiveMinimum,
// exclusiveMaximum, minLength, maxLength, pattern, minItems, maxItems.
// Any other keyword is ignored.
type Validator struct {
	root *rule
}

type rule struct {
	// reject is set for the boolean schema false.
	reject bool

	types    []string
	enum     []any
	hasConst bool
	constVal any

	properties    map[string]*rule
	required      []string
	noAdditional  bool
	additional    *rule
	items         *rule
	minItems      *int
	maxItems      *int
	minLength     *int
	maxLength     *int
	minimum       *float64
	maximum       *float64
	exclusiveMin  *float64
	exclusiveMax  *float64
	pattern       *regexp.Regexp
	patternSource string
}

var knownTypes = map[string]bool{
	"object": true, "array": true, "string": true, "number": true,
	"integer": true, "boolean": true, "null": true,
}

// Compile prepares doc for validation.
func Compile(doc Document) (*Validator, error) {
	root, err := compileRule(doc, "root")
	if err != nil {
		return nil, err
	}
	return &Validator{root: root}, nil
}

func compileRule(v any, path string) (*rule, error) {
	switch t := v.(type) {
	case bool:
		return &rule{reject: !t}, nil
	case map[string]any:
		return compileObject(t, path)
	case nil:
		return &rule{}, nil
	default:
		return nil, fmt.Errorf("%w: %s: schema must be an object or boolean", ErrInvalidSchema, path)
	}
}

func compileObject(doc map[string]any, path string) (*rule, error) {
	r := &rule{}

	if raw, ok := doc["type"]; ok {
		switch t := raw.(type) {
		case string:
			r.types = []string{t}
		case []any:
			for _, entry := range t {
				s, isString := entry.(string)
				if !isString {
					return nil, fmt.Errorf("%w: %s: type entries must be strings", ErrInvalidSchema, path)
				}
				r.types = append(r.types, s)
			}
		case []string:
			r.types = append(r.types, t...)
		default:
			return nil, fmt.Errorf("%w: %s: type must be a string or list", ErrInvalidSchema, path)
		}
		for _, name := range r.types {
			if !knownTypes[name] {
				return nil, fmt.Errorf("%w: %s: unknown type %q", ErrInvalidSchema, path, name)
			}
		}
	}

	if raw, ok := doc["enum"]; ok {
		list, isList := asList(raw)
		if !isList {
			return nil, fmt.Errorf("%w: %s: enum must be a list", ErrInvalidSchema, path)
		}
		r.enum = list
	}

	if raw, ok := doc["const"]; ok {
		r.hasConst = true
		r.constVal = raw
	}

	if raw, ok := doc["properties"]; ok {
		props, isObj := raw.(map[string]any)
		if !isObj {
			return nil, fmt.Errorf("%w: %s: properties must be an object", ErrInvalidSchema, path)
		}
		r.properties = make(map[string]*rule, len(props))
		for name, def := range props {
			child, err := compileRule(def, joinPath(path, name))
			if err != nil {
				return nil, err
			}
			r.properties[name] = child
		}
	}

	if raw, ok := doc["required"]; ok {
		list, isList := asList(raw)
		if !isList {
			return nil, fmt.Errorf("%w: %s: required must be a list", ErrInvalidSchema, path)
		}
		for _, entry := range list {
			s, isString := entry.(string)
			if !isString {
				return nil, fmt.Errorf("%w: %s: required entries must be strings", ErrInvalidSchema, path)
			}
			r.required = append(r.required, s)
		}
	}

	if raw, ok := doc["additionalProperties"]; ok {
		switch t := raw.(type) {
		case bool:
			r.noAdditional = !t
		case map[string]any:
			child, err := compileObject(t, joinPath(path, "additionalProperties"))
			if err != nil {
				return nil, err
			}
			r.additional = child
		default:
			return nil, fmt.Errorf("%w: %s: additionalProperties must be an object or boolean", ErrInvalidSchema, path)
		}
	}

	if raw, ok := doc["items"]; ok {
		child, err := compileRule(raw, joinPath(path, "items"))
		if err != nil {
			return nil, err
		}
		r.items = child
	}

	var err error
	if r.minimum, err = numberKeyword(doc, "minimum", path); err != nil {
		return nil, err
	}
	if r.maximum, err = numberKeyword(doc, "maximum", path); err != nil {
		return nil, err
	}
	if r.exclusiveMin, err = numberKeyword(doc, "exclusiveMinimum", path); err != nil {
		return nil, err
	}
	if r.exclusiveMax, err = numberKeyword(doc, "exclusiveMaximum", path); err != nil {
		return nil, err
	}
	if r.minLength, err = countKeyword(doc, "minLength", path); err != nil {
		return nil, err
	}
	if r.maxLength, err = countKeyword(doc, "maxLength", path); err != nil {
		return nil, err
	}
	if r.minItems, err = countKeyword(doc, "minItems", path); err != nil {
		return nil, err
	}
	if r.maxItems, err = countKeyword(doc, "maxItems", path); err != nil {
		return nil, err
	}

	if raw, ok := doc["pattern"]; ok {
		src, isString := raw.(string)
		if !isString {
			return nil, fmt.Errorf("%w: %s: pattern must be a string", ErrInvalidSchema, path)
		}
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: pattern: %v", ErrInvalidSchema, path, err)
		}
		r.pattern = re
		r.patternSource = src
	}

	return r, nil
}

func numberKeyword(doc map[string]any, key, path string) (*float64, error) {
	raw, ok := doc[key]
	if !ok {
		return nil, nil
	}
	f, isNumber := toFloat(raw)
	if !isNumber {
		return nil, fmt.Errorf("%w: %s: %s must be a number", ErrInvalidSchema, path, key)
	}
	return &f, nil
}

func countKeyword(doc map[string]any, key, path string) (*int, error) {
	raw, ok := doc[key]
	if !ok {
		return nil, nil
	}
	f, isNumber := toFloat(raw)
	if !isNumber || f < 0 || f != math.Trunc(f) {
		return nil, fmt.Errorf("%w: %s: %s must be a non-negative integer", ErrInvalidSchema, path, key)
	}
	n := int(f)
	return &n, nil
}

// Validate returns one message per violated constraint, formatted as
// "<dot.path|root>: <reason>". The order is deterministic for a given
// schema and payload. An empty result means the payload is valid.
func (v *Validator) Validate(payload any) []string {
	var errs []string
	v.root.check(payload, nil, &errs)
	return errs
}

func (r *rule) check(value any, path []string, errs *[]string) {
	report := func(format string, args ...any) {
		*errs = append(*errs, formatPath(path)+": "+fmt.Sprintf(format, args...))
	}

	if r.reject {
		report("False schema does not allow %s", repr(value))
		return
	}

	if len(r.types) > 0 && !matchesAnyType(value, r.types) {
		quoted := make([]string, len(r.types))
		for i, t := range r.types {
			quoted[i] = "'" + t + "'"
		}
		report("%s is not of type %s", repr(value), strings.Join(quoted, ", "))
		return
	}

	if r.enum != nil && !containsValue(r.enum, value) {
		report("%s is not one of %s", repr(value), repr(r.enum))
	}
	if r.hasConst && !Equal(r.constVal, value) {
		report("%s was expected", repr(r.constVal))
	}

	switch t := value.(type) {
	case string:
		length := len([]rune(t))
		if r.minLength != nil && length < *r.minLength {
			report("%s is too short", repr(t))
		}
		if r.maxLength != nil && length > *r.maxLength {
			report("%s is too long", repr(t))
		}
		if r.pattern != nil && !r.pattern.MatchString(t) {
			report("%s does not match %s", repr(t), repr(r.patternSource))
		}
	case []any:
		if r.minItems != nil && len(t) < *r.minItems {
			report("%s is too short", repr(t))
		}
		if r.maxItems != nil && len(t) > *r.maxItems {
			report("%s is too long", repr(t))
		}
		if r.items != nil {
			for i, item := range t {
				r.items.check(item, appendPath(path, strconv.Itoa(i)), errs)
			}
		}
	case map[string]any:
		r.checkObject(t, path, errs, report)
	case bool, nil:
	default:
		if n, ok := toFloat(value); ok {
			r.checkNumber(n, value, report)
		}
	}
}

func (r *rule) checkNumber(n float64, value any, report func(string, ...any)) {
	if r.minimum != nil && n < *r.minimum {
		report("%s is less than the minimum of %s", repr(value), formatNumber(*r.minimum))
	}
	if r.maximum != nil && n > *r.maximum {
		report("%s is greater than the maximum of %s", repr(value), formatNumber(*r.maximum))
	}
	if r.exclusiveMin != nil && n <= *r.exclusiveMin {
		report("%s is less than or equal to the minimum of %s", repr(value), formatNumber(*r.exclusiveMin))
	}
	if r.exclusiveMax != nil && n >= *r.exclusiveMax {
		report("%s is greater than or equal to the maximum of %s", repr(value), formatNumber(*r.exclusiveMax))
	}
}

func (r *rule) checkObject(obj map[string]any, path []string, errs *[]string, report func(string, ...any)) {
	for _, name := range r.required {
		if _, ok := obj[name]; !ok {
			report("'%s' is a required property", name)
		}
	}

	names := sortedKeys(obj)
	var unexpected []string
	for _, name := range names {
		if child, declared := r.properties[name]; declared {
			child.check(obj[name], appendPath(path, name), errs)
			continue
		}
		if r.additional != nil {
			r.additional.check(obj[name], appendPath(path, name), errs)
			continue
		}
		if r.noAdditional {
			unexpected = append(unexpected, name)
		}
	}

	if len(unexpected) > 0 {
		quoted := make([]string, len(unexpected))
		for i, name := range unexpected {
			quoted[i] = "'" + name + "'"
		}
		verb := "was"
		if len(unexpected) > 1 {
			verb = "were"
		}
		report("Additional properties are not allowed (%s %s unexpected)", strings.Join(quoted, ", "), verb)
	}
}

func matchesAnyType(value any, types []string) bool {
	for _, t := range types {
		if matchesType(value, t) {
			return true
		}
	}
	return false
}

func matchesType(value any, typ string) bool {
	switch typ {
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "null":
		return value == nil
	case "number":
		_, ok := toFloat(value)
		return ok
	case "integer":
		f, ok := toFloat(value)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func containsValue(list []any, value any) bool {
	for _, candidate := range list {
		if a, okA := toFloat(candidate); okA {
			if b, okB := toFloat(value); okB && a == b {
				return true
			}
			continue
		}
		if Equal(candidate, value) {
			return true
		}
	}
	return false
}

func repr(v any) string {
	if s, ok := v.(string); ok {
		return "'" + s + "'"
	}
	if f, ok := v.(float64); ok {
		return formatNumber(f)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatPath(path []string) string {
	if len(path) == 0 {
		return "root"
	}
	return strings.Join(path, ".")
}

func appendPath(path []string, elem string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = elem
	return out
}

func joinPath(path, elem string) string {
	return path + "." + elem
}
