package main

import "testing"

func TestIntArg(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    int
		wantErr bool
	}{
		{"missing", nil, 0, true},
		{"not a number", []string{"two"}, 0, true},
		{"positive", []string{"2"}, 2, false},
		{"negative", []string{"-1"}, -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := intArg(tt.args, "steps")
			if (err != nil) != tt.wantErr {
				t.Fatalf("intArg(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("intArg(%v) = %d, want %d", tt.args, got, tt.want)
			}
		})
	}
}

func TestRunUnknownCommand(t *testing.T) {
	if err := run(nil, "sideways", nil); err == nil {
		t.Error("Expected an error for an unknown command")
	}
}
