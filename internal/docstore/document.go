package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"
)

// Document is the decoded form of a stored JSON object.
type Document = map[string]any

// toDocument converts any JSON-encodable value into a Document.
func toDocument(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return parseDocument(data)
}

func parseDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("decoding document: not a JSON object")
	}
	return doc, nil
}

// normalize converts v into the generic JSON representation held inside
// Documents so equality checks are representation independent.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding value: %w", err)
	}
	return out, nil
}

// decodeInto converts a stored representation into the caller's type.
func decodeInto(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	return nil
}

// decodeList decodes raw JSON documents into out, a pointer to a slice.
func decodeList(raws [][]byte, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Slice {
		return ErrInvalidOutput
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, raw := range raws {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(raw)
	}
	buf.WriteByte(']')

	if err := json.Unmarshal(buf.Bytes(), out); err != nil {
		return fmt.Errorf("decoding documents: %w", err)
	}
	return nil
}

// jsonEqual compares two values by their canonical JSON encoding.
// encoding/json sorts map keys, so objects compare structurally.
func jsonEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ab, bb)
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// lookup returns the value at a dotted path.
func lookup(doc Document, path string) (any, bool) {
	var cur any = doc
	for _, key := range splitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// assign sets the value at a dotted path, creating intermediate objects.
func assign(doc Document, path string, v any) {
	keys := splitPath(path)
	cur := doc
	for _, key := range keys[:len(keys)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[key] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = v
}

// arrayAt returns the array at path. A missing or null field is an empty array.
func arrayAt(doc Document, path string) ([]any, error) {
	v, ok := lookup(doc, path)
	if !ok || v == nil {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotArray, path)
	}
	return arr, nil
}

// pushCapped appends value and keeps the newest limit elements.
func pushCapped(doc Document, field string, value any, limit int) error {
	arr, err := arrayAt(doc, field)
	if err != nil {
		return err
	}
	v, err := normalize(value)
	if err != nil {
		return err
	}
	arr = append(arr, v)
	if limit > 0 && len(arr) > limit {
		arr = append([]any(nil), arr[len(arr)-limit:]...)
	}
	assign(doc, field, arr)
	return nil
}

// addToSet appends value unless an equal element is present.
func addToSet(doc Document, field string, value any) (bool, error) {
	arr, err := arrayAt(doc, field)
	if err != nil {
		return false, err
	}
	v, err := normalize(value)
	if err != nil {
		return false, err
	}
	for _, elem := range arr {
		if jsonEqual(elem, v) {
			return false, nil
		}
	}
	assign(doc, field, append(arr, v))
	return true, nil
}

// pull removes matching elements.
func pull(doc Document, field string, match any) (bool, error) {
	arr, err := arrayAt(doc, field)
	if err != nil {
		return false, err
	}
	m, err := normalize(match)
	if err != nil {
		return false, err
	}

	kept := make([]any, 0, len(arr))
	for _, elem := range arr {
		if !elementMatches(elem, m) {
			kept = append(kept, elem)
		}
	}
	if len(kept) == len(arr) {
		return false, nil
	}
	assign(doc, field, kept)
	return true, nil
}

// elementMatches applies Pull semantics: object matches are field subsets.
func elementMatches(elem, match any) bool {
	want, isObject := match.(map[string]any)
	if !isObject {
		return jsonEqual(elem, match)
	}
	got, ok := elem.(map[string]any)
	if !ok {
		return false
	}
	return fieldsMatch(got, want)
}

func fieldsMatch(got, want map[string]any) bool {
	for k, wv := range want {
		gv, ok := got[k]
		if !ok || !jsonEqual(gv, wv) {
			return false
		}
	}
	return true
}

// matches evaluates a Filter against a Document.
func matches(doc Document, f Filter) (bool, error) {
	for path, want := range f.Eq {
		w, err := normalize(want)
		if err != nil {
			return false, err
		}
		got, ok := lookup(doc, path)
		if !ok || !jsonEqual(got, w) {
			return false, nil
		}
	}

	for path, fields := range f.ElemMatch {
		want, err := normalize(fields)
		if err != nil {
			return false, err
		}
		arr, err := arrayAt(doc, path)
		if err != nil {
			return false, nil
		}
		found := false
		for _, elem := range arr {
			if elementMatches(elem, want) {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	return true, nil
}

// validateFilter rejects non-scalar values, which the SQL backends
// cannot compare.
func validateFilter(f Filter) error {
	check := func(path string, v any) error {
		switch v.(type) {
		case string, bool, int, int32, int64, float32, float64, uint, uint32, uint64, json.Number:
			return nil
		default:
			return fmt.Errorf("%w: %s has type %T", ErrInvalidFilter, path, v)
		}
	}
	for path, v := range f.Eq {
		if err := check(path, v); err != nil {
			return err
		}
	}
	for path, fields := range f.ElemMatch {
		for k, v := range fields {
			if err := check(path+"."+k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyMergePatch applies an RFC 7396 merge patch to a raw document.
func applyMergePatch(original []byte, patch map[string]any) ([]byte, error) {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("encoding patch: %w", err)
	}
	merged, err := jsonpatch.MergePatch(original, patchJSON)
	if err != nil {
		return nil, fmt.Errorf("applying merge patch: %w", err)
	}
	return merged, nil
}

// containment builds the JSON document used by PostgreSQL's @> operator.
func containment(f Filter) Document {
	doc := make(Document)
	for path, v := range f.Eq {
		assign(doc, path, v)
	}
	for path, fields := range f.ElemMatch {
		assign(doc, path, []any{fields})
	}
	return doc
}
