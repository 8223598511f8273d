package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	cs "github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
	lcerrors "github.com/gxo-labs/livecache/pkg/livecache/v1/errors"
)

// Record is the value type replayed by the CLI.
type Record = map[string]interface{}

// Script is a replay file: the field every record is keyed by and the
// batches to apply, each as one write.
type Script struct {
	KeyField string   `yaml:"key_field"`
	Batches  [][]Step `yaml:"batches"`
}

// Step is one mutation of a batch.
type Step struct {
	// Op is one of add, remove, refresh, clear or replace.
	Op     string   `yaml:"op"`
	Key    string   `yaml:"key,omitempty"`
	Value  Record   `yaml:"value,omitempty"`
	Values []Record `yaml:"values,omitempty"`
}

func loadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, lcerrors.NewConfigError(fmt.Sprintf("failed to read script '%s'", path), err)
	}
	return parseScript(data, path)
}

func parseScript(data []byte, pathHint string) (*Script, error) {
	var s Script
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, lcerrors.NewConfigError(fmt.Sprintf("failed to parse script '%s'", pathHint), err)
	}
	if s.KeyField == "" {
		return nil, lcerrors.NewValidationError(fmt.Sprintf("script '%s' is missing 'key_field'", pathHint), nil)
	}
	for i, batch := range s.Batches {
		for j, step := range batch {
			if err := step.validate(s.KeyField); err != nil {
				return nil, lcerrors.NewValidationError(fmt.Sprintf("script '%s' batch %d step %d", pathHint, i, j), err)
			}
		}
	}
	return &s, nil
}

func (st Step) validate(keyField string) error {
	switch st.Op {
	case "add":
		if st.Value == nil {
			return fmt.Errorf("op 'add' requires 'value'")
		}
		if _, ok := st.Value[keyField]; !ok {
			return fmt.Errorf("value has no '%s' field", keyField)
		}
	case "remove", "refresh":
		if st.Key == "" {
			return fmt.Errorf("op '%s' requires 'key'", st.Op)
		}
	case "replace":
		for i, v := range st.Values {
			if _, ok := v[keyField]; !ok {
				return fmt.Errorf("values[%d] has no '%s' field", i, keyField)
			}
		}
	case "clear":
	default:
		return fmt.Errorf("unknown op '%s'", st.Op)
	}
	return nil
}

// keySelector keys records by field. A record without the field is rejected
// by the cache as an invalid mutation.
func keySelector(field string) func(Record) string {
	return func(r Record) string {
		v, ok := r[field]
		if !ok {
			panic(fmt.Errorf("record has no '%s' field", field))
		}
		return fmt.Sprint(v)
	}
}

// mutations converts a batch into the mutations of one write.
func mutations(batch []Step, key func(Record) string) []cs.Mutation[string, Record] {
	muts := make([]cs.Mutation[string, Record], 0, len(batch))
	for _, st := range batch {
		switch st.Op {
		case "add":
			muts = append(muts, cs.AddOrUpdateItem[string](st.Value))
		case "remove":
			muts = append(muts, cs.RemoveKey[string, Record](st.Key))
		case "refresh":
			muts = append(muts, cs.RefreshKey[string, Record](st.Key))
		case "clear":
			muts = append(muts, cs.Clear[string, Record]())
		case "replace":
			items := make([]cs.KeyValue[string, Record], 0, len(st.Values))
			for _, v := range st.Values {
				items = append(items, cs.KeyValue[string, Record]{Key: key(v), Value: v})
			}
			muts = append(muts, cs.Replace(items))
		}
	}
	return muts
}

// fieldFilter parses a "field=value" filter expression.
func fieldFilter(expr string) (func(Record) bool, error) {
	field, want, ok := strings.Cut(expr, "=")
	if !ok || field == "" {
		return nil, fmt.Errorf("filter must have the form field=value, got '%s'", expr)
	}
	return func(r Record) bool {
		v, ok := r[field]
		return ok && fmt.Sprint(v) == want
	}, nil
}
