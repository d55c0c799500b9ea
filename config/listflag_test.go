package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v2"
)

func TestListFlag(t *testing.T) {
	const yamlList = `- cocaine-1:10053
- cocaine-2:10053
- cocaine-3:10053`

	expected := []string{"cocaine-1:10053", "cocaine-2:10053", "cocaine-3:10053"}

	t.Run("custom separator", func(t *testing.T) {
		current := newListFlag(";")
		if err := current.Set("cocaine-1:10053;cocaine-2:10053;cocaine-3:10053"); err != nil {
			t.Fatal(err)
		}

		if !cmp.Equal(expected, current.values) {
			t.Error("failed to parse flags", current.values)
		}

		if err := yaml.Unmarshal([]byte(yamlList), current); err != nil {
			t.Fatal(err)
		}

		if !cmp.Equal(expected, current.values) {
			t.Error("failed to parse yaml", current.values)
		}

		if current.value != "cocaine-1:10053;cocaine-2:10053;cocaine-3:10053" {
			t.Error("invalid value composed by yaml parser", current.value)
		}
	})

	t.Run("comma separator with spaces", func(t *testing.T) {
		f := commaListFlag()
		if err := f.Set("cocaine-1:10053, cocaine-2:10053 ,cocaine-3:10053"); err != nil {
			t.Fatal(err)
		}

		if !cmp.Equal(expected, f.values) {
			t.Error("failed to parse flags", f.values)
		}
	})

	t.Run("restricted values", func(t *testing.T) {
		t.Run("good", func(t *testing.T) {
			current := commaListFlag("cocaine-1:10053", "cocaine-2:10053", "cocaine-3:10053", "cocaine-4:10053")
			if err := current.Set("cocaine-1:10053,cocaine-2:10053,cocaine-3:10053"); err != nil {
				t.Fatal(err)
			}

			if err := yaml.Unmarshal([]byte(yamlList), current); err != nil {
				t.Fatal(err)
			}

			if !cmp.Equal(expected, current.values) {
				t.Error("failed to parse yaml", current.values)
			}
		})

		t.Run("bad", func(t *testing.T) {
			current := commaListFlag("cocaine-1:10053", "cocaine-2:10053")
			if err := current.Set("cocaine-1:10053,cocaine-3:10053"); err == nil {
				t.Error("failed to fail")
			}

			if err := yaml.Unmarshal([]byte(yamlList), current); err == nil {
				t.Error("failed to fail")
			}
		})
	})

	t.Run("string representation", func(t *testing.T) {
		const input = "cocaine-1:10053,cocaine-2:10053"

		current := commaListFlag()
		if err := current.Set(input); err != nil {
			t.Error(err)
		}

		if output := current.String(); output != input {
			t.Error("unexpected string representation", output, input)
		}

		var nilFlag *listFlag
		if nilFlag.String() != "" {
			t.Error("unexpected string representation of nil")
		}
	})

	t.Run("unmarshal error", func(t *testing.T) {
		const input = "invalid yaml"
		current := commaListFlag()
		if err := yaml.Unmarshal([]byte(input), current); err == nil {
			t.Errorf("Failed to get error from Unmarshal() for invalid input: %q", input)
		}
	})

	t.Run("empty value", func(t *testing.T) {
		f := commaListFlag()
		f.Set("cocaine-1:10053")
		if err := f.Set(""); err != nil {
			t.Fatal(err)
		}

		if f.value != "" || f.values != nil {
			t.Errorf("failed to parse flags: %q %v (%d)", f.value, f.values, len(f.values))
		}
	})
}
