package db

import (
	"context"
	"testing"
)

func TestEnsureSchema_InvalidName(t *testing.T) {
	for _, name := range []string{"", "Urgencias", "ed-core", "ed.core", "ed core", "drop;table", "1schema"} {
		if err := EnsureSchema(context.Background(), nil, name); err == nil {
			t.Errorf("expected error for invalid schema %q", name)
		}
	}
}

func TestSchemaPattern_Valid(t *testing.T) {
	for _, name := range []string{"urgencias", "ed_test_1a2b", "_scratch"} {
		if !schemaPattern.MatchString(name) {
			t.Errorf("expected %q to be accepted", name)
		}
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil transaction for empty context")
	}
}
