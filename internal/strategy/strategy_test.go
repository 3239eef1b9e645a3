package strategy

import "testing"

func schemaFixture() map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"gamma": map[string]any{"type": "number", "minimum": 0.1, "maximum": 5.0},
			"label": map[string]any{"type": "string"},
		},
		"required": []any{"gamma"},
	}
}

func TestValidateConfigMissingRequired(t *testing.T) {
	t.Parallel()

	err := ValidateConfig(schemaFixture(), map[string]any{})
	if err == nil {
		t.Fatal("expected error for missing required parameter")
	}
}

func TestValidateConfigOutOfRange(t *testing.T) {
	t.Parallel()

	err := ValidateConfig(schemaFixture(), map[string]any{"gamma": 10.0})
	if err == nil {
		t.Fatal("expected error for out-of-range parameter")
	}
}

func TestValidateConfigWrongType(t *testing.T) {
	t.Parallel()

	err := ValidateConfig(schemaFixture(), map[string]any{"gamma": 1.0, "label": 5})
	if err == nil {
		t.Fatal("expected error for wrong type")
	}
}

func TestValidateConfigValid(t *testing.T) {
	t.Parallel()

	err := ValidateConfig(schemaFixture(), map[string]any{"gamma": 1.0, "label": "ok"})
	if err != nil {
		t.Fatalf("expected valid config to pass, got %v", err)
	}
}
