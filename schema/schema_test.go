package schema

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Comcast/automata/util/testutil"
)

func TestValidate(t *testing.T) {
	var (
		ctx = context.Background()
		v   = NewValidator()
	)

	tests := []struct {
		name   string
		schema string
		data   string
		ok     bool
	}{
		{"empty schema", "", `{"anything":[1,2]}`, true},
		{"number", "count: number", `{"count":0}`, true},
		{"int from JSON", "amount: int", `{"amount":5}`, true},
		{"fraction is not int", "amount: int", `{"amount":5.5}`, false},
		{"missing field", "amount: int", `{}`, false},
		{"wrong type", "count: number", `{"count":"five"}`, false},
		{"bound", "count: int & >=0", `{"count":-1}`, false},
		{"open struct", "count: number", `{"count":1,"note":"x"}`, true},
		{"optional", "note?: string", `{}`, true},
		{"braced", `{name: string, tags: [...string]}`, `{"name":"a","tags":["b"]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(ctx, tt.schema, testutil.Dwimjs(tt.data))
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Check(context.Background(), "count: number"))
	require.NoError(t, v.Check(context.Background(), "  "))
	require.Error(t, v.Check(context.Background(), "count: {"))
}

func TestNormalize(t *testing.T) {
	got := Normalize(testutil.Dwimjs(`{"a":[1,2.5],"b":{"c":3}}`))
	require.Equal(t, map[string]interface{}{
		"a": []interface{}{int64(1), 2.5},
		"b": map[string]interface{}{"c": int64(3)},
	}, got)
}

func TestValidateConcurrently(t *testing.T) {
	var (
		ctx  = context.Background()
		v    = NewValidator()
		wg   sync.WaitGroup
		errs = make(chan error, 16)
	)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			schema := fmt.Sprintf("n: int & <=%d", i)
			for j := 0; j < 50; j++ {
				if err := v.Validate(ctx, schema, map[string]interface{}{"n": float64(i)}); err != nil {
					errs <- err
					return
				}
				if err := v.Validate(ctx, schema, map[string]interface{}{"n": float64(i + 1)}); err == nil {
					errs <- fmt.Errorf("%s accepted %d", schema, i+1)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestCacheLimit(t *testing.T) {
	saved := MaxCachedSchemas
	MaxCachedSchemas = 2
	defer func() { MaxCachedSchemas = saved }()

	c := newCompiler()
	for i := 0; i < 5; i++ {
		_, err := c.compile(fmt.Sprintf("n: %d", i))
		require.NoError(t, err)
		require.LessOrEqual(t, len(c.schemas), 2)
	}

	v := NewValidator()
	for i := 0; i < 5; i++ {
		require.NoError(t, v.Validate(context.Background(), fmt.Sprintf("n: %d", i), map[string]interface{}{"n": float64(i)}))
	}
}
