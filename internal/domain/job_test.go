package domain

import "testing"

func TestJobStatus_CanAdvance(t *testing.T) {
	tests := []struct {
		name string
		from JobStatus
		to   JobStatus
		want bool
	}{
		{
			name: "created to processing",
			from: StatusCreated,
			to:   StatusProcessing,
			want: true,
		},
		{
			name: "processing to processing",
			from: StatusProcessing,
			to:   StatusProcessing,
			want: true,
		},
		{
			name: "processing to completed",
			from: StatusProcessing,
			to:   StatusCompleted,
			want: true,
		},
		{
			name: "created to failed",
			from: StatusCreated,
			to:   StatusFailed,
			want: true,
		},
		{
			name: "processing to created regresses",
			from: StatusProcessing,
			to:   StatusCreated,
			want: false,
		},
		{
			name: "completed is final",
			from: StatusCompleted,
			to:   StatusProcessing,
			want: false,
		},
		{
			name: "failed is final",
			from: StatusFailed,
			to:   StatusCompleted,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanAdvance(tt.to); got != tt.want {
				t.Errorf("CanAdvance(%q -> %q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestJobStatus_Values(t *testing.T) {
	// Verify status string values for DB storage
	if StatusCreated != "created" {
		t.Errorf("StatusCreated = %q, want %q", StatusCreated, "created")
	}
	if StatusProcessing != "processing" {
		t.Errorf("StatusProcessing = %q, want %q", StatusProcessing, "processing")
	}
	if StatusCompleted != "completed" {
		t.Errorf("StatusCompleted = %q, want %q", StatusCompleted, "completed")
	}
	if StatusFailed != "failed" {
		t.Errorf("StatusFailed = %q, want %q", StatusFailed, "failed")
	}
}

func TestItem_OutputURLs(t *testing.T) {
	item := Item{
		SerialNumber: "SN-1",
		ProductName:  "Desk",
		Images: []ImageResult{
			{InputURL: "http://img/a.jpg", OutputURL: "http://cdn/a.jpg", Status: ImageOK},
			{InputURL: "http://img/b.jpg", Status: ImageFailed, Error: "decode failed"},
			{InputURL: "http://img/c.jpg", OutputURL: "http://cdn/c.jpg", Status: ImageOK},
		},
	}

	inputs := item.InputURLs()
	if len(inputs) != 3 {
		t.Fatalf("InputURLs() len = %d, want 3", len(inputs))
	}

	outputs := item.OutputURLs()
	if len(outputs) != 2 {
		t.Fatalf("OutputURLs() len = %d, want 2", len(outputs))
	}
	if len(outputs) > len(inputs) {
		t.Error("outputs longer than inputs")
	}
	// Surviving outputs keep their relative input order.
	if outputs[0] != "http://cdn/a.jpg" || outputs[1] != "http://cdn/c.jpg" {
		t.Errorf("OutputURLs() = %v, want ordered survivors", outputs)
	}
}
