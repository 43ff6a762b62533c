package meter

import "testing"

func TestValue(t *testing.T) {
	tests := []struct {
		name     string
		v        Value
		wantJSON string
		wantStr  string
		rounded  Value
	}{
		{"unknown", Unknown(), "null", "unknown", Unknown()},
		{"zero value is unknown", Value{}, "null", "unknown", Unknown()},
		{"known zero", Known(0), "0", "0", Known(0)},
		{"fraction", Known(0.652173), "0.652173", "0.652173", Known(0.65)},
		{"negative", Known(-512.346), "-512.346", "-512.346", Known(-512.35)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.v)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(data) != tt.wantJSON {
				t.Errorf("Marshal() = %s, want %s", data, tt.wantJSON)
			}
			if tt.v.String() != tt.wantStr {
				t.Errorf("String() = %q, want %q", tt.v.String(), tt.wantStr)
			}
			if got := tt.v.Rounded(); got != tt.rounded {
				t.Errorf("Rounded() = %v, want %v", got, tt.rounded)
			}
		})
	}
}

func TestSnapshotJSON(t *testing.T) {
	s := Snapshot{Power: Known(150), Initialized: true}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["power"] != 150.0 {
		t.Errorf("power = %v, want 150", decoded["power"])
	}
	if decoded["voltage"] != nil {
		t.Errorf("voltage = %v, want null", decoded["voltage"])
	}
	if decoded["initialized"] != true {
		t.Errorf("initialized = %v, want true", decoded["initialized"])
	}
}
